package workspace

import (
	"fmt"
	"strings"
	"sync/atomic"
	"time"
	"unicode"

	"github.com/google/uuid"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// maxSlugLength caps the task-title portion of branch and directory names.
const maxSlugLength = 40

// Counter hands out process-wide agent numbers. Numbers are strictly
// increasing and never reused within a run, so derived branch and
// directory names cannot collide even across batches.
type Counter struct {
	n atomic.Int64
}

// Next returns the next agent number, starting at 1.
func (c *Counter) Next() int {
	return int(c.n.Add(1))
}

// UniqueID returns a timestamp-plus-random suffix for workspace names.
// The random component covers two workspaces provisioned within the
// same second.
func UniqueID() string {
	return fmt.Sprintf("%s-%s", time.Now().Format("20060102-150405"), uuid.NewString()[:8])
}

// asciiFold strips diacritics by decomposing, dropping combining marks,
// and recomposing.
var asciiFold = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Slugify converts a task title to a lowercase ASCII slug with hyphens,
// truncated to maxSlugLength. Accented letters are folded to their base
// form before non-alphanumeric runes are collapsed into single hyphens.
func Slugify(title string) string {
	clean := strings.TrimSpace(title)
	if clean == "" {
		return ""
	}

	if folded, _, err := transform.String(asciiFold, clean); err == nil {
		clean = folded
	}

	var builder strings.Builder
	builder.Grow(len(clean))
	prevHyphen := false
	for _, r := range strings.ToLower(clean) {
		switch {
		case r >= 'a' && r <= 'z':
			builder.WriteRune(r)
			prevHyphen = false
		case r >= '0' && r <= '9':
			builder.WriteRune(r)
			prevHyphen = false
		default:
			if !prevHyphen {
				builder.WriteRune('-')
				prevHyphen = true
			}
		}
	}

	slug := strings.Trim(builder.String(), "-")
	if len(slug) > maxSlugLength {
		slug = strings.Trim(slug[:maxSlugLength], "-")
	}
	return slug
}

// slugOrDefault guarantees a non-empty name component for titles that
// slugify to nothing (for example, all punctuation).
func slugOrDefault(title string) string {
	if slug := Slugify(title); slug != "" {
		return slug
	}
	return "task"
}

// BranchName builds the branch name for one task attempt:
// <prefix>/agent-<N>-<uniqueID>-<slug>.
func BranchName(prefix string, agentNumber int, uniqueID, title string) string {
	return fmt.Sprintf("%s/agent-%d-%s-%s", prefix, agentNumber, uniqueID, slugOrDefault(title))
}

// DirName builds the workspace directory name for one task attempt.
// It mirrors BranchName without the branch namespace, so a directory is
// trivially matched to its branch in logs and on disk.
func DirName(agentNumber int, uniqueID, title string) string {
	return fmt.Sprintf("agent-%d-%s-%s", agentNumber, uniqueID, slugOrDefault(title))
}
