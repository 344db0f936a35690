package usecase_test

import (
	"fmt"
	"strings"
	"testing"

	"ziwei-chat/internal/domain"
	"ziwei-chat/internal/usecase"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testProfile() usecase.PersonaProfile {
	return usecase.PersonaProfile{
		ID:     "xuanming",
		Name:   "玄明先生",
		System: "你是一位紫微斗数命理师。",
	}
}

func TestCompose_KnowledgeBlockFormat(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile: testProfile(),
		Passages: []domain.KnowledgePassage{
			{
				Title:         "示例书",
				Chapter:       "第三章",
				Page:          12,
				Content:       "紫微星坐命宫者，气质沉稳。",
				CombinedScore: 0.82,
			},
		},
		UserMessage: "紫微星在命宫代表什么？",
	})
	require.NoError(t, err)

	system := prompt.Messages[0].Content
	assert.Equal(t, domain.RoleSystem, prompt.Messages[0].Role)
	assert.Contains(t, system, "## 参考资料")
	assert.Contains(t, system, "[1] 《示例书》 第三章 第12页（相关度 82%）")
	assert.Contains(t, system, "紫微星坐命宫者，气质沉稳。")
	assert.Contains(t, system, "请在句末标注来源编号")
}

func TestCompose_BlockOrderIsFixed(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile: testProfile(),
		Passages: []domain.KnowledgePassage{
			{Title: "示例书", Content: "内容", CombinedScore: 0.9},
		},
		Scene:        "事业咨询",
		Emotion:      "anxious",
		UserContext:  &usecase.UserContext{Name: "小明", BirthDate: "1995-08-03"},
		ChartContext: "命宫：紫微、天府",
		UserMessage:  "今年运势如何？",
	})
	require.NoError(t, err)

	system := prompt.Messages[0].Content
	order := []string{"## 参考资料", "## 场景指引", "## 情绪适配", "## 用户信息", "## 命盘信息"}
	last := -1
	for _, header := range order {
		idx := strings.Index(system, header)
		require.NotEqual(t, -1, idx, "missing block %s", header)
		assert.Greater(t, idx, last, "block %s out of order", header)
		last = idx
	}
	assert.Contains(t, system, "称呼：小明")
	assert.Contains(t, system, "出生日期：1995-08-03")
	assert.Contains(t, system, "命宫：紫微、天府")
	// Known emotions map to a curated tone instruction.
	assert.Contains(t, system, "焦虑")
}

func TestCompose_OmitsEmptyBlocks(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile:     testProfile(),
		UserMessage: "你好",
	})
	require.NoError(t, err)

	system := prompt.Messages[0].Content
	assert.NotContains(t, system, "## 参考资料")
	assert.NotContains(t, system, "## 场景指引")
	assert.NotContains(t, system, "## 情绪适配")
	assert.NotContains(t, system, "## 用户信息")
	assert.NotContains(t, system, "## 命盘信息")
}

func TestCompose_HistoryWindowKeepsMostRecent(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	history := make([]domain.Message, 0, 15)
	for i := 0; i < 15; i++ {
		role := domain.RoleUser
		if i%2 == 1 {
			role = domain.RoleAssistant
		}
		history = append(history, domain.Message{Role: role, Content: fmt.Sprintf("msg-%d", i)})
	}

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile:     testProfile(),
		History:     history,
		UserMessage: "当前问题",
	})
	require.NoError(t, err)

	// system + 10 history + final user message
	require.Len(t, prompt.Messages, 12)
	assert.Equal(t, "msg-5", prompt.Messages[1].Content)
	assert.Equal(t, "msg-14", prompt.Messages[10].Content)

	final := prompt.Messages[len(prompt.Messages)-1]
	assert.Equal(t, domain.RoleUser, final.Role)
	assert.Equal(t, "当前问题", final.Content)
}

func TestCompose_ExcerptTruncatedByRunes(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 5)

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile: testProfile(),
		Passages: []domain.KnowledgePassage{
			{Title: "示例书", Content: "一二三四五六七八", CombinedScore: 0.9},
		},
		UserMessage: "问题",
	})
	require.NoError(t, err)

	system := prompt.Messages[0].Content
	assert.Contains(t, system, "一二三四五……")
	assert.NotContains(t, system, "一二三四五六")
}

func TestCompose_UncitablePassagesSkipped(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile: usecase.PersonaProfile{ID: "p", System: "系统"},
		Passages: []domain.KnowledgePassage{
			{Title: "", Content: "无来源内容", CombinedScore: 0.9},
		},
		UserMessage: "问题",
	})
	require.NoError(t, err)

	assert.NotContains(t, prompt.Messages[0].Content, "## 参考资料")
	assert.NotContains(t, prompt.Messages[0].Content, "无来源内容")
}

func TestCompose_ProfileOverridesModelAndTemperature(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)
	temp := 0.3
	profile := testProfile()
	profile.Model = "qwen-plus"
	profile.Temperature = &temp

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile:     profile,
		UserMessage: "问题",
		Model:       "qwen-max",
		Temperature: 0.8,
		MaxTokens:   1024,
	})
	require.NoError(t, err)

	assert.Equal(t, "qwen-plus", prompt.Model)
	assert.Equal(t, 0.3, prompt.Temperature)
	assert.Equal(t, 1024, prompt.MaxTokens)
}

func TestCompose_RejectsEmptyMessage(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	_, err := composer.Compose(usecase.ComposeInput{
		Profile:     testProfile(),
		UserMessage: "   ",
	})
	assert.Error(t, err)
}

func TestCompose_RejectsProfileWithoutSystemText(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	_, err := composer.Compose(usecase.ComposeInput{
		Profile:     usecase.PersonaProfile{ID: "empty"},
		UserMessage: "问题",
	})
	assert.Error(t, err)
}

func TestCompose_UnknownEmotionFallsBack(t *testing.T) {
	composer := usecase.NewPromptComposer(10, 300)

	prompt, err := composer.Compose(usecase.ComposeInput{
		Profile:     testProfile(),
		Emotion:     "困惑",
		UserMessage: "问题",
	})
	require.NoError(t, err)
	assert.Contains(t, prompt.Messages[0].Content, "用户当前情绪：困惑")
}
