package workspace

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
	"testing"
)

func TestSlugify(t *testing.T) {
	tests := []struct {
		name  string
		title string
		want  string
	}{
		{
			name:  "simple title",
			title: "Add request logging",
			want:  "add-request-logging",
		},
		{
			name:  "uppercase and punctuation",
			title: "Fix: crash in parser!",
			want:  "fix-crash-in-parser",
		},
		{
			name:  "consecutive separators collapse",
			title: "a -- b___c",
			want:  "a-b-c",
		},
		{
			name:  "diacritics fold to ascii",
			title: "Café menü réfactor",
			want:  "cafe-menu-refactor",
		},
		{
			name:  "leading and trailing junk trimmed",
			title: "  ---Fix it---  ",
			want:  "fix-it",
		},
		{
			name:  "digits kept",
			title: "Bump to v2.5.1",
			want:  "bump-to-v2-5-1",
		},
		{
			name:  "empty title",
			title: "",
			want:  "",
		},
		{
			name:  "punctuation only",
			title: "!!! ???",
			want:  "",
		},
		{
			name:  "non-latin runes collapse",
			title: "支持 unicode titles",
			want:  "unicode-titles",
		},
		{
			name:  "long title truncated",
			title: strings.Repeat("word ", 20),
			want:  "word-word-word-word-word-word-word-word",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Slugify(tt.title)
			if got != tt.want {
				t.Errorf("Slugify(%q) = %q, want %q", tt.title, got, tt.want)
			}
			if len(got) > maxSlugLength {
				t.Errorf("Slugify(%q) length = %d, want <= %d", tt.title, len(got), maxSlugLength)
			}
		})
	}
}

func TestCounterNext(t *testing.T) {
	c := &Counter{}
	for want := 1; want <= 5; want++ {
		if got := c.Next(); got != want {
			t.Errorf("Next() = %d, want %d", got, want)
		}
	}
}

func TestCounterNext_Concurrent(t *testing.T) {
	const n = 100

	c := &Counter{}
	results := make(chan int, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Next()
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool, n)
	for v := range results {
		if seen[v] {
			t.Errorf("agent number %d handed out twice", v)
		}
		seen[v] = true
		if v < 1 || v > n {
			t.Errorf("agent number %d out of range [1, %d]", v, n)
		}
	}
	if len(seen) != n {
		t.Errorf("got %d distinct numbers, want %d", len(seen), n)
	}
}

func TestUniqueID_Format(t *testing.T) {
	idRe := regexp.MustCompile(`^\d{8}-\d{6}-[0-9a-f]{8}$`)

	id := UniqueID()
	if !idRe.MatchString(id) {
		t.Errorf("UniqueID() = %q, want match for %s", id, idRe)
	}
}

func TestBranchName(t *testing.T) {
	got := BranchName("tutti", 7, "20260825-093015-3f2a91bc", "Add request logging")
	want := "tutti/agent-7-20260825-093015-3f2a91bc-add-request-logging"
	if got != want {
		t.Errorf("BranchName() = %q, want %q", got, want)
	}
}

func TestBranchName_EmptySlugFallsBack(t *testing.T) {
	got := BranchName("tutti", 1, "20260825-093015-3f2a91bc", "!!!")
	want := "tutti/agent-1-20260825-093015-3f2a91bc-task"
	if got != want {
		t.Errorf("BranchName() = %q, want %q", got, want)
	}
}

func TestDirName(t *testing.T) {
	got := DirName(3, "20260825-093015-3f2a91bc", "Fix: crash in parser!")
	want := "agent-3-20260825-093015-3f2a91bc-fix-crash-in-parser"
	if got != want {
		t.Errorf("DirName() = %q, want %q", got, want)
	}
}

// Concurrently generated names must be pairwise distinct: the agent
// number alone guarantees it, regardless of timestamp collisions.
func TestNaming_ConcurrentUniqueness(t *testing.T) {
	const n = 50

	c := &Counter{}
	branches := make(chan string, n)
	dirs := make(chan string, n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			num := c.Next()
			id := UniqueID()
			branches <- BranchName("tutti", num, id, "same title every time")
			dirs <- DirName(num, id, "same title every time")
		}()
	}
	wg.Wait()
	close(branches)
	close(dirs)

	branchSet := make(map[string]bool, n)
	for b := range branches {
		branchSet[b] = true
	}
	if len(branchSet) != n {
		t.Errorf("got %d distinct branch names, want %d", len(branchSet), n)
	}

	dirSet := make(map[string]bool, n)
	for d := range dirs {
		dirSet[d] = true
	}
	if len(dirSet) != n {
		t.Errorf("got %d distinct directory names, want %d", len(dirSet), n)
	}
}

func TestNaming_BranchAndDirShareSuffix(t *testing.T) {
	id := UniqueID()
	branch := BranchName("tutti", 4, id, "Refactor config")
	dir := DirName(4, id, "Refactor config")

	if !strings.HasSuffix(branch, "/"+dir) {
		t.Errorf("branch %q does not end with directory name %q", branch, dir)
	}
	if fmt.Sprintf("tutti/%s", dir) != branch {
		t.Errorf("branch %q and dir %q disagree", branch, dir)
	}
}
