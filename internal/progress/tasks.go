// ABOUTME: Parses the planner-maintained tasks.md into structured tasks via the
// ABOUTME: goldmark AST, including the non-standard claimed marker [~].

package progress

import (
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

// TaskStatus classifies one tasks.md list item.
type TaskStatus string

const (
	TaskPending TaskStatus = "pending"
	TaskClaimed TaskStatus = "claimed"
	TaskDone    TaskStatus = "done"
)

// Task is one actionable item from tasks.md.
type Task struct {
	ID          string
	Description string
	Status      TaskStatus
	// Worker is the claiming agent identity, set for claimed tasks.
	Worker string
	// Section is the nearest level-2 heading above the item.
	Section string
}

var (
	taskIDPattern = regexp.MustCompile(`^\[([A-Za-z]+-\d+)\]\s*`)
	workerPattern = regexp.MustCompile(`\s*\(worker:\s*([^)]+)\)\s*$`)
)

var taskMarkdown = goldmark.New(goldmark.WithExtensions(extension.TaskList))

// ParseTasks extracts tasks from markdown source. Checkbox items map to
// pending/done; items whose text starts with [~] are claimed. List items
// without a recognized marker are ignored.
func ParseTasks(source []byte) []Task {
	doc := taskMarkdown.Parser().Parse(text.NewReader(source))

	var tasks []Task
	section := ""
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch node := n.(type) {
		case *ast.Heading:
			if node.Level == 2 {
				section = strings.TrimSpace(nodeText(node, source))
			}
		case *ast.ListItem:
			if task, ok := parseItem(node, source, section); ok {
				tasks = append(tasks, task)
			}
		}
		return ast.WalkContinue, nil
	})
	return tasks
}

// parseItem classifies a single list item. Only the item's own text block is
// read; nested sub-lists are visited as their own items by the walk.
func parseItem(item *ast.ListItem, source []byte, section string) (Task, bool) {
	block := item.FirstChild()
	if block == nil {
		return Task{}, false
	}

	task := Task{Section: section}
	switch box := block.FirstChild().(type) {
	case *east.TaskCheckBox:
		if box.IsChecked {
			task.Status = TaskDone
		} else {
			task.Status = TaskPending
		}
		task.Description = strings.TrimSpace(nodeText(block, source))
	default:
		text := strings.TrimSpace(nodeText(block, source))
		if !strings.HasPrefix(text, "[~]") {
			return Task{}, false
		}
		task.Status = TaskClaimed
		task.Description = strings.TrimSpace(strings.TrimPrefix(text, "[~]"))
	}

	if m := workerPattern.FindStringSubmatch(task.Description); m != nil {
		task.Worker = strings.TrimSpace(m[1])
		task.Description = strings.TrimSpace(workerPattern.ReplaceAllString(task.Description, ""))
	}
	if m := taskIDPattern.FindStringSubmatch(task.Description); m != nil {
		task.ID = m[1]
		task.Description = strings.TrimSpace(task.Description[len(m[0]):])
	}
	return task, true
}

// nodeText concatenates the plain text under a node.
func nodeText(n ast.Node, source []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(source))
		case *ast.String:
			b.Write(t.Value)
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

// Tasks parses tasks.md from the loop directory. Missing file means no
// tasks, not an error.
func (s *Store) Tasks() ([]Task, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, tasksFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return ParseTasks(data), nil
}

// PendingTasks returns unclaimed pending tasks. When a "Pending" section
// heading exists, only its items count; otherwise the whole file is scanned.
func (s *Store) PendingTasks() ([]Task, error) {
	all, err := s.Tasks()
	if err != nil {
		return nil, err
	}
	scoped := false
	for _, t := range all {
		if strings.EqualFold(t.Section, "Pending") {
			scoped = true
			break
		}
	}
	var pending []Task
	for _, t := range all {
		if t.Status != TaskPending {
			continue
		}
		if scoped && !strings.EqualFold(t.Section, "Pending") {
			continue
		}
		pending = append(pending, t)
	}
	return pending, nil
}
