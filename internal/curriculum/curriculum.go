// Package curriculum parses project lesson files.
//
// A project's lessons live in <dir>/<locale>/<dashedName>.md:
//
//	# Project Title
//
//	## 1
//
//	### --description--
//	Free text shown to the learner.
//
//	### --tests--
//	Human readable test list.
//
//	### --cmd--
//	```sh
//	cargo test --lib
//	```
//
//	### --seed--
//	#### --"src/lib.rs"--
//	```rust
//	fn main() {}
//	```
//
//	## 2
//	...
//
//	## --fcc-end--
package curriculum

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"

	"github.com/ashureev/shsh-lessons/internal/domain"
)

var (
	// ErrLessonNotFound is returned for lesson numbers outside the file.
	ErrLessonNotFound = errors.New("lesson not found")
	// ErrSeedNotFound is returned when no earlier lesson seeds a file.
	ErrSeedNotFound = errors.New("seed not found")
)

var (
	lessonHeading  = regexp.MustCompile(`^##\s+(\d+)\s*$`)
	endHeading     = regexp.MustCompile(`^##\s+--fcc-end--\s*$`)
	sectionHeading = regexp.MustCompile(`^###\s+--([a-z-]+)--\s*$`)
	seedFile       = regexp.MustCompile(`^####\s+--"(.+)"--\s*$`)
	renumber       = regexp.MustCompile(`(?m)^## \d+`)
)

// Curriculum is a parsed project file.
type Curriculum struct {
	Title   string
	Lessons []domain.Lesson
}

// Lesson returns lesson n (1-based).
func (c *Curriculum) Lesson(n int) (domain.Lesson, error) {
	for _, l := range c.Lessons {
		if l.Number == n {
			return l, nil
		}
	}
	return domain.Lesson{}, fmt.Errorf("%w: %d of %d", ErrLessonNotFound, n, len(c.Lessons))
}

// Len returns the number of lessons.
func (c *Curriculum) Len() int {
	return len(c.Lessons)
}

// Loader reads curriculum files from a locales directory.
type Loader struct {
	Dir           string
	DefaultLocale string
}

// Path returns the file holding dashedName's lessons in locale.
func (l *Loader) Path(locale, dashedName string) string {
	return filepath.Join(l.Dir, locale, dashedName+".md")
}

// Load parses a project's curriculum, falling back to the default locale
// when the requested translation does not exist.
func (l *Loader) Load(locale, dashedName string) (*Curriculum, error) {
	path := l.Path(locale, dashedName)
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) && l.DefaultLocale != "" && locale != l.DefaultLocale {
		path = l.Path(l.DefaultLocale, dashedName)
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("read curriculum: %w", err)
	}
	c, err := Parse(string(data))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	return c, nil
}

// Parse reads lessons from markdown.
func Parse(markdown string) (*Curriculum, error) {
	p := &parser{c: &Curriculum{}}
	sc := bufio.NewScanner(strings.NewReader(markdown))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		if err := p.line(sc.Text()); err != nil {
			return nil, err
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	p.flushLesson()
	return p.c, nil
}

type parser struct {
	c *Curriculum

	lesson   *domain.Lesson
	section  string
	body     []string
	seedPath string
	inFence  bool
	fence    []string
	rawFence bool
	done     bool
}

func (p *parser) line(line string) error {
	if p.done {
		return nil
	}

	if p.rawFence {
		p.body = append(p.body, line)
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			p.rawFence = false
		}
		return nil
	}

	if p.inFence {
		if strings.HasPrefix(strings.TrimSpace(line), "```") {
			p.inFence = false
			p.closeFence()
			return nil
		}
		p.fence = append(p.fence, line)
		return nil
	}

	switch {
	case strings.HasPrefix(line, "# ") && p.lesson == nil && p.c.Title == "":
		p.c.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		return nil
	case endHeading.MatchString(line):
		p.flushLesson()
		p.done = true
		return nil
	}

	if m := lessonHeading.FindStringSubmatch(line); m != nil {
		p.flushLesson()
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return fmt.Errorf("lesson heading %q: %w", line, err)
		}
		p.lesson = &domain.Lesson{Number: n}
		return nil
	}
	if p.lesson == nil {
		return nil
	}

	if m := sectionHeading.FindStringSubmatch(line); m != nil {
		p.flushSection()
		p.section = m[1]
		return nil
	}
	if m := seedFile.FindStringSubmatch(line); m != nil && p.section == "seed" {
		p.seedPath = m[1]
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(line), "```") && (p.section == "seed" || p.section == "cmd") {
		p.inFence = true
		p.fence = p.fence[:0]
		return nil
	}
	if strings.HasPrefix(strings.TrimSpace(line), "```") {
		p.rawFence = true
	}

	p.body = append(p.body, line)
	return nil
}

func (p *parser) closeFence() {
	text := strings.Join(p.fence, "\n")
	switch p.section {
	case "seed":
		if p.seedPath != "" {
			p.lesson.Seeds = append(p.lesson.Seeds, domain.SeedFile{Path: p.seedPath, Contents: text + "\n"})
			p.seedPath = ""
		}
	case "cmd":
		p.body = append(p.body, p.fence...)
	}
	p.fence = p.fence[:0]
}

func (p *parser) flushSection() {
	if p.lesson == nil {
		return
	}
	text := strings.TrimSpace(strings.Join(p.body, "\n"))
	switch p.section {
	case "description":
		p.lesson.Description = text
	case "tests":
		p.lesson.Tests = text
	case "cmd":
		p.lesson.Command = text
	}
	p.section = ""
	p.body = p.body[:0]
	p.seedPath = ""
}

func (p *parser) flushLesson() {
	if p.lesson == nil {
		return
	}
	p.flushSection()
	p.c.Lessons = append(p.c.Lessons, *p.lesson)
	p.lesson = nil
}

// FindSeed returns the latest seed for file written by a lesson before n,
// along with the number of the lesson that seeds it.
func FindSeed(c *Curriculum, n int, file string) (string, int, error) {
	want := filepath.Clean(file)
	for i := n - 1; i >= 1; i-- {
		l, err := c.Lesson(i)
		if err != nil {
			continue
		}
		for _, s := range l.Seeds {
			if filepath.Clean(s.Path) == want {
				return s.Contents, i, nil
			}
		}
	}
	return "", 0, fmt.Errorf("%w: %s before lesson %d", ErrSeedNotFound, file, n)
}

// Renumber rewrites every lesson heading so lessons count 1..N in order.
func Renumber(markdown string) string {
	n := 0
	return renumber.ReplaceAllStringFunc(markdown, func(string) string {
		n++
		return "## " + strconv.Itoa(n)
	})
}
