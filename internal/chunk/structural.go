package chunk

import (
	"strings"
	"unicode/utf8"
)

// StructuralChunker keeps page and paragraph boundaries: small segments are
// packed together up to Size runes, oversized ones are window split. A summary
// chunk built from the first long segments is appended after the regular ones.
type StructuralChunker struct {
	opt Options
}

func (s *StructuralChunker) Split(segments []string) ([]Chunk, error) {
	if err := s.opt.validate(); err != nil {
		return nil, err
	}

	var out []Chunk
	var cur strings.Builder
	curPage := 0

	flush := func() {
		if cur.Len() == 0 {
			return
		}
		text := cur.String()
		out = append(out, Chunk{ID: len(out), Text: text, Start: 0, End: utf8.RuneCountInString(text), Page: curPage})
		cur.Reset()
	}

	for i, seg := range segments {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		page := i + 1
		n := utf8.RuneCountInString(seg)

		if n > s.opt.Size {
			flush()
			parts, err := Window(seg, s.opt.Size, s.opt.Overlap)
			if err != nil {
				return nil, err
			}
			for _, p := range parts {
				p.ID = len(out)
				p.Page = page
				out = append(out, p)
			}
			continue
		}

		if cur.Len() > 0 && utf8.RuneCountInString(cur.String())+1+n > s.opt.Size {
			flush()
		}
		if cur.Len() == 0 {
			curPage = page
		} else {
			cur.WriteByte(' ')
		}
		cur.WriteString(seg)
	}
	flush()

	if len(out) == 0 {
		return out, nil
	}

	summary := Summary(segments, s.opt)
	out = append(out, Chunk{
		ID:    len(out),
		Text:  summary,
		Start: 0,
		End:   utf8.RuneCountInString(summary),
		Metadata: map[string]string{
			MetaSource:   SourceSummary,
			MetaPriority: PriorityHigh,
		},
	})
	return out, nil
}

// Summary joins the first SummarySegments segments longer than SummaryMinRunes
// with newlines and cuts the result to SummaryBudget runes. When no segment is
// long enough the first non-empty segments are used instead.
func Summary(segments []string, opt Options) string {
	def := DefaultOptions()
	if opt.SummarySegments <= 0 {
		opt.SummarySegments = def.SummarySegments
	}
	if opt.SummaryMinRunes <= 0 {
		opt.SummaryMinRunes = def.SummaryMinRunes
	}
	if opt.SummaryBudget <= 0 {
		opt.SummaryBudget = def.SummaryBudget
	}

	pick := func(minRunes int) []string {
		var picked []string
		for _, seg := range segments {
			seg = strings.TrimSpace(seg)
			if seg == "" || utf8.RuneCountInString(seg) <= minRunes {
				continue
			}
			picked = append(picked, seg)
			if len(picked) == opt.SummarySegments {
				break
			}
		}
		return picked
	}

	picked := pick(opt.SummaryMinRunes)
	if len(picked) == 0 {
		picked = pick(0)
	}

	text := strings.Join(picked, "\n")
	if r := []rune(text); len(r) > opt.SummaryBudget {
		text = string(r[:opt.SummaryBudget])
	}
	return strings.TrimSpace(text)
}
