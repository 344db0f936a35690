package usecase

import "strings"

// Channel identifies which logical stream a decoded delta belongs to.
type Channel string

const (
	ChannelReasoning Channel = "reasoning"
	ChannelAnswer    Channel = "answer"
)

// Emission is one (channel, textDelta) pair produced while decoding a
// fragment. A single fragment may yield several emissions when the model
// switches channels mid-fragment.
type Emission struct {
	Channel Channel
	Text    string
}

type decoderState int

const (
	decoderIdle decoderState = iota
	decoderInReasoning
	decoderInAnswer
)

// Delimiter tags for the two channels in the raw model output.
const (
	reasoningOpenTag  = "<thinking>"
	reasoningCloseTag = "</thinking>"
	answerOpenTag     = "<answer>"
	answerCloseTag    = "</answer>"
)

// ThinkingDecoder incrementally classifies streamed model output into a
// reasoning trace and a user-facing answer. Tags may be split across
// fragment boundaries: a tail that could be the start of a tag is withheld
// until the next fragment resolves it, so no characters are ever dropped
// and no partial tag ever leaks into a channel.
//
// The decoder is single-threaded per conversation turn; construct one per
// request or call Reset before reuse.
type ThinkingDecoder struct {
	state     decoderState
	pending   string
	reasoning strings.Builder
	answer    strings.Builder
	done      bool
}

// NewThinkingDecoder returns a decoder in the Idle state.
func NewThinkingDecoder() *ThinkingDecoder {
	return &ThinkingDecoder{}
}

// Feed consumes one stream fragment and returns the deltas it resolved.
// Untagged output while Idle is treated as direct answer content.
func (d *ThinkingDecoder) Feed(fragment string) []Emission {
	buf := d.pending + fragment
	d.pending = ""

	var out []Emission
	for buf != "" {
		switch d.state {
		case decoderIdle:
			tagIdx, tag, next := findOpenTag(buf)
			if tagIdx == -1 {
				keep := partialTagSuffix(buf, reasoningOpenTag, answerOpenTag)
				out = d.emit(out, ChannelAnswer, buf[:len(buf)-keep])
				d.pending = buf[len(buf)-keep:]
				buf = ""
				continue
			}
			// Text ahead of an open tag is untagged model output and
			// falls through to the answer channel.
			out = d.emit(out, ChannelAnswer, buf[:tagIdx])
			buf = buf[tagIdx+len(tag):]
			d.state = next

		case decoderInReasoning:
			closeIdx := strings.Index(buf, reasoningCloseTag)
			if closeIdx == -1 {
				keep := partialTagSuffix(buf, reasoningCloseTag)
				out = d.emit(out, ChannelReasoning, buf[:len(buf)-keep])
				d.pending = buf[len(buf)-keep:]
				buf = ""
				continue
			}
			out = d.emit(out, ChannelReasoning, buf[:closeIdx])
			buf = buf[closeIdx+len(reasoningCloseTag):]
			d.state = decoderIdle

		case decoderInAnswer:
			closeIdx := strings.Index(buf, answerCloseTag)
			if closeIdx == -1 {
				keep := partialTagSuffix(buf, answerCloseTag)
				out = d.emit(out, ChannelAnswer, buf[:len(buf)-keep])
				d.pending = buf[len(buf)-keep:]
				buf = ""
				continue
			}
			out = d.emit(out, ChannelAnswer, buf[:closeIdx])
			buf = buf[closeIdx+len(answerCloseTag):]
			d.state = decoderIdle
		}
	}
	return out
}

// Finalize flushes whatever the decoder still holds when the stream ends:
// a withheld partial tag and any unterminated channel content. A model that
// ends without closing its tags loses nothing.
func (d *ThinkingDecoder) Finalize() []Emission {
	if d.done {
		return nil
	}
	d.done = true

	var out []Emission
	if d.pending != "" {
		switch d.state {
		case decoderInReasoning:
			out = d.emit(out, ChannelReasoning, d.pending)
		default:
			out = d.emit(out, ChannelAnswer, d.pending)
		}
		d.pending = ""
	}
	d.state = decoderIdle
	return out
}

// Snapshot returns the accumulated reasoning and answer text so far.
func (d *ThinkingDecoder) Snapshot() (reasoning, answer string) {
	return d.reasoning.String(), d.answer.String()
}

// Done reports whether Finalize has been called.
func (d *ThinkingDecoder) Done() bool {
	return d.done
}

// Reset clears all buffers and returns to Idle, allowing the decoder to be
// reused for a new conversation turn.
func (d *ThinkingDecoder) Reset() {
	d.state = decoderIdle
	d.pending = ""
	d.reasoning.Reset()
	d.answer.Reset()
	d.done = false
}

func (d *ThinkingDecoder) emit(out []Emission, ch Channel, text string) []Emission {
	if text == "" {
		return out
	}
	switch ch {
	case ChannelReasoning:
		d.reasoning.WriteString(text)
	case ChannelAnswer:
		d.answer.WriteString(text)
	}
	if n := len(out); n > 0 && out[n-1].Channel == ch {
		out[n-1].Text += text
		return out
	}
	return append(out, Emission{Channel: ch, Text: text})
}

// findOpenTag locates the earliest channel-opening tag in buf.
func findOpenTag(buf string) (int, string, decoderState) {
	rIdx := strings.Index(buf, reasoningOpenTag)
	aIdx := strings.Index(buf, answerOpenTag)
	switch {
	case rIdx == -1 && aIdx == -1:
		return -1, "", decoderIdle
	case aIdx == -1 || (rIdx != -1 && rIdx < aIdx):
		return rIdx, reasoningOpenTag, decoderInReasoning
	default:
		return aIdx, answerOpenTag, decoderInAnswer
	}
}

// partialTagSuffix returns the length of the longest proper suffix of s that
// is a prefix of any of the given tags. That suffix must be withheld because
// the rest of the tag may arrive in the next fragment.
func partialTagSuffix(s string, tags ...string) int {
	longest := 0
	for _, tag := range tags {
		limit := len(tag) - 1
		if limit > len(s) {
			limit = len(s)
		}
		for n := limit; n > longest; n-- {
			if strings.HasPrefix(tag, s[len(s)-n:]) {
				longest = n
				break
			}
		}
	}
	return longest
}
