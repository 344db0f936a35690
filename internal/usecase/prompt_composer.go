package usecase

import (
	"fmt"
	"strings"

	"ziwei-chat/internal/domain"
)

// UserContext carries the optional structured profile fields a client may
// attach to a request.
type UserContext struct {
	Name       string `json:"name,omitempty"`
	Gender     string `json:"gender,omitempty"`
	BirthDate  string `json:"birth_date,omitempty"`
	BirthTime  string `json:"birth_time,omitempty"`
	BirthPlace string `json:"birth_place,omitempty"`
}

// ComposeInput contains everything the composer merges into one prompt.
type ComposeInput struct {
	Profile      PersonaProfile
	Passages     []domain.KnowledgePassage
	UserContext  *UserContext
	Scene        string
	Emotion      string
	ChartContext string
	History      []domain.Message
	UserMessage  string
	Model        string
	Temperature  float64
	MaxTokens    int
}

// PromptComposer merges persona, retrieved passages, session context and
// history into the conversation sent to the model. Pure data transformation;
// block order is fixed so assembly stays deterministic and testable.
type PromptComposer interface {
	Compose(input ComposeInput) (domain.ComposedPrompt, error)
}

type personaPromptComposer struct {
	historyWindow int
	excerptRunes  int
}

// NewPromptComposer creates a composer with the given history window (turns
// kept, most recent first to go) and knowledge excerpt budget in runes.
func NewPromptComposer(historyWindow, excerptRunes int) PromptComposer {
	if historyWindow <= 0 {
		historyWindow = 10
	}
	if excerptRunes <= 0 {
		excerptRunes = 300
	}
	return &personaPromptComposer{
		historyWindow: historyWindow,
		excerptRunes:  excerptRunes,
	}
}

func (c *personaPromptComposer) Compose(input ComposeInput) (domain.ComposedPrompt, error) {
	if strings.TrimSpace(input.UserMessage) == "" {
		return domain.ComposedPrompt{}, fmt.Errorf("user message is required")
	}
	if strings.TrimSpace(input.Profile.System) == "" {
		return domain.ComposedPrompt{}, fmt.Errorf("persona profile has no system text")
	}

	var sb strings.Builder
	sb.WriteString(input.Profile.System)

	// Block order is fixed: knowledge, scene, emotion, user profile, chart.
	if block := c.knowledgeBlock(input.Passages); block != "" {
		sb.WriteString("\n\n")
		sb.WriteString(block)
	}
	if scene := strings.TrimSpace(input.Scene); scene != "" {
		sb.WriteString("\n\n## 场景指引\n")
		sb.WriteString(scene)
	}
	if emotion := strings.TrimSpace(input.Emotion); emotion != "" {
		sb.WriteString("\n\n## 情绪适配\n")
		sb.WriteString(emotionGuidance(emotion))
	}
	if block := userProfileBlock(input.UserContext); block != "" {
		sb.WriteString("\n\n## 用户信息\n")
		sb.WriteString(block)
	}
	if chart := strings.TrimSpace(input.ChartContext); chart != "" {
		sb.WriteString("\n\n## 命盘信息\n")
		sb.WriteString(chart)
	}

	history := input.History
	if len(history) > c.historyWindow {
		history = history[len(history)-c.historyWindow:]
	}

	messages := make([]domain.Message, 0, len(history)+2)
	messages = append(messages, domain.Message{Role: domain.RoleSystem, Content: sb.String()})
	messages = append(messages, history...)
	messages = append(messages, domain.Message{Role: domain.RoleUser, Content: input.UserMessage})

	model := input.Model
	if input.Profile.Model != "" {
		model = input.Profile.Model
	}
	temperature := input.Temperature
	if input.Profile.Temperature != nil {
		temperature = *input.Profile.Temperature
	}

	return domain.ComposedPrompt{
		Messages:    messages,
		Model:       model,
		Temperature: temperature,
		MaxTokens:   input.MaxTokens,
	}, nil
}

// knowledgeBlock renders retrieved passages with their citation metadata.
// Passages without a title cannot be cited and are skipped by the caller
// before composition; the check here is a backstop.
func (c *personaPromptComposer) knowledgeBlock(passages []domain.KnowledgePassage) string {
	var cited []domain.KnowledgePassage
	for _, p := range passages {
		if p.Citable() {
			cited = append(cited, p)
		}
	}
	if len(cited) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## 参考资料\n")
	for i, p := range cited {
		sb.WriteString(fmt.Sprintf("[%d] 《%s》", i+1, p.Title))
		if p.Chapter != "" {
			sb.WriteString(fmt.Sprintf(" %s", p.Chapter))
		}
		if p.Page > 0 {
			sb.WriteString(fmt.Sprintf(" 第%d页", p.Page))
		}
		sb.WriteString(fmt.Sprintf("（相关度 %.0f%%）\n", p.CombinedScore*100))
		sb.WriteString("    ")
		sb.WriteString(truncateRunes(p.Content, c.excerptRunes))
		sb.WriteString("\n")
	}
	sb.WriteString("回答中引用参考资料时，请在句末标注来源编号，如 [1]。")
	return sb.String()
}

func userProfileBlock(uc *UserContext) string {
	if uc == nil {
		return ""
	}
	var lines []string
	if uc.Name != "" {
		lines = append(lines, "称呼："+uc.Name)
	}
	if uc.Gender != "" {
		lines = append(lines, "性别："+uc.Gender)
	}
	if uc.BirthDate != "" {
		lines = append(lines, "出生日期："+uc.BirthDate)
	}
	if uc.BirthTime != "" {
		lines = append(lines, "出生时辰："+uc.BirthTime)
	}
	if uc.BirthPlace != "" {
		lines = append(lines, "出生地："+uc.BirthPlace)
	}
	return strings.Join(lines, "\n")
}

var emotionTones = map[string]string{
	"anxious": "用户情绪较为焦虑，请放缓语气，先安抚再解释，避免绝对化的断语。",
	"sad":     "用户情绪低落，请温和回应，多给予理解与鼓励，避免加重负面联想。",
	"happy":   "用户情绪积极，可以用轻快一些的语气回应，但仍保持克制、不夸大。",
	"angry":   "用户情绪激动，请保持平和中立，不争辩，先认可感受再说明观点。",
}

func emotionGuidance(emotion string) string {
	if tone, ok := emotionTones[emotion]; ok {
		return tone
	}
	return fmt.Sprintf("用户当前情绪：%s，请据此调整回答语气。", emotion)
}

func truncateRunes(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit]) + "……"
}
