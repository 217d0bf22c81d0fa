// ABOUTME: File-backed loop progress store: anchor, guardrails, progress, logs, state record.
// ABOUTME: The core reads it for completion heuristics and appends spawn/iteration metadata.

package progress

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// DirName is the loop directory created inside an agent's working directory.
const DirName = ".watchtower/loop"

const (
	anchorFile     = "anchor.md"
	guardrailsFile = "guardrails.md"
	progressFile   = "progress.md"
	errorsFile     = "errors.log"
	activityFile   = "activity.log"
	historyFile    = "session_history.log"
	stateFile      = "state.toml"
	tasksFile      = "tasks.md"
	promptFile     = "_iteration_prompt.md"
)

// maxSessionHistory caps session_history.log; older lines are discarded.
const maxSessionHistory = 50

// autoGuardrailThreshold is how many times the same normalized error must
// repeat before a guardrail is auto-appended.
const autoGuardrailThreshold = 3

// ErrNoLoopDir indicates the loop directory does not exist.
var ErrNoLoopDir = errors.New("loop directory does not exist")

// State is the structured record persisted to state.toml. It is the only
// non-markdown file in the directory and stays human-editable.
type State struct {
	Iteration     int    `toml:"iteration"`
	MaxIterations int    `toml:"max_iterations"`
	StopWord      string `toml:"stop_word"`
	Role          string `toml:"role"`
	PaneID        string `toml:"pane_id"`

	StartedAt          time.Time `toml:"started_at"`
	IterationStartedAt time.Time `toml:"iteration_started_at"`

	// ErrorCounts tracks normalized error keys for guardrail auto-append.
	ErrorCounts map[string]int `toml:"error_counts,omitempty"`
}

// Store reads and appends one agent's loop directory. All paths stay inside
// the directory; the store owns no other state.
type Store struct {
	dir string
}

// New wraps an existing loop directory.
func New(dir string) *Store {
	return &Store{dir: dir}
}

// DirFor returns the loop directory path for a working directory.
func DirFor(workingDir string) string {
	return filepath.Join(workingDir, DirName)
}

// Active reports whether a working directory has an initialized loop.
func Active(workingDir string) bool {
	_, err := os.Stat(filepath.Join(DirFor(workingDir), stateFile))
	return err == nil
}

// Dir returns the loop directory path.
func (s *Store) Dir() string { return s.dir }

// Init creates the loop directory inside workingDir and seeds every file:
// the anchor from the task prompt, guardrail and progress skeletons, empty
// logs, and the state record. Returns the ready store.
func Init(workingDir, prompt string, st State) (*Store, error) {
	dir := DirFor(workingDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating loop directory: %w", err)
	}
	s := &Store{dir: dir}

	anchor := fmt.Sprintf(`# Loop Task

## Success Criteria
<!-- Add checkboxes for completion criteria -->
- [ ] Task complete

## Instructions
%s

## Notes
- Update progress.md with your work
- Add signs to guardrails.md when you learn constraints
- Write "%s" to progress.md when all criteria are met
`, prompt, st.StopWord)
	if err := s.write(anchorFile, anchor); err != nil {
		return nil, err
	}

	guardrails := `# Guardrails

Learned constraints from previous iterations. Check these before taking actions.

<!-- Signs will be added here as the loop progresses -->
`
	if err := s.write(guardrailsFile, guardrails); err != nil {
		return nil, err
	}

	prog := `# Progress

## Current Status
Starting iteration 1...

## Completed
<!-- Track completed work here -->

## Next Steps
<!-- Track remaining tasks here -->
`
	if err := s.write(progressFile, prog); err != nil {
		return nil, err
	}

	for _, name := range []string{errorsFile, activityFile, historyFile} {
		if err := s.write(name, ""); err != nil {
			return nil, err
		}
	}

	if st.StartedAt.IsZero() {
		st.StartedAt = time.Now().UTC()
	}
	st.IterationStartedAt = st.StartedAt
	if err := s.WriteState(st); err != nil {
		return nil, err
	}

	return s, nil
}

// ReadState loads the state record.
func (s *Store) ReadState() (State, error) {
	data, err := os.ReadFile(filepath.Join(s.dir, stateFile))
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrNoLoopDir
		}
		return State{}, fmt.Errorf("reading state record: %w", err)
	}
	var st State
	if _, err := toml.Decode(string(data), &st); err != nil {
		return State{}, fmt.Errorf("parsing state record: %w", err)
	}
	return st, nil
}

// WriteState rewrites the state record.
func (s *Store) WriteState(st State) error {
	var buf bytes.Buffer
	if err := toml.NewEncoder(&buf).Encode(st); err != nil {
		return fmt.Errorf("encoding state record: %w", err)
	}
	return s.write(stateFile, buf.String())
}

// IncrementIteration bumps the counter and stamps the new iteration start.
// Returns the new value.
func (s *Store) IncrementIteration() (int, error) {
	st, err := s.ReadState()
	if err != nil {
		return 0, err
	}
	st.Iteration++
	st.IterationStartedAt = time.Now().UTC()
	if err := s.WriteState(st); err != nil {
		return 0, err
	}
	return st.Iteration, nil
}

// AnchorText returns anchor.md, empty when missing.
func (s *Store) AnchorText() string { return s.readAll(anchorFile) }

// GuardrailsText returns guardrails.md, empty when missing.
func (s *Store) GuardrailsText() string { return s.readAll(guardrailsFile) }

// ProgressText returns progress.md, empty when missing.
func (s *Store) ProgressText() string { return s.readAll(progressFile) }

// AppendProgress appends one line to progress.md, the file the agent itself
// normally writes.
func (s *Store) AppendProgress(line string) error {
	return s.append(progressFile, line+"\n")
}

// ProgressTail returns at most n trailing bytes of progress.md, cut at a
// line boundary when possible.
func (s *Store) ProgressTail(n int) string {
	text := s.readAll(progressFile)
	if len(text) <= n {
		return text
	}
	cut := text[len(text)-n:]
	if i := strings.IndexByte(cut, '\n'); i >= 0 && i+1 < len(cut) {
		cut = cut[i+1:]
	}
	return cut
}

// CheckStopWord reports whether the stop word appears in progress.md,
// case-insensitively.
func (s *Store) CheckStopWord(stopWord string) bool {
	if stopWord == "" {
		return false
	}
	return strings.Contains(
		strings.ToLower(s.ProgressText()),
		strings.ToLower(stopWord),
	)
}

// CheckPromiseTag reports whether the explicit completion tag appears in
// progress.md.
func (s *Store) CheckPromiseTag(tag string) bool {
	return tag != "" && strings.Contains(s.ProgressText(), tag)
}

// AppendError records one error line and tracks its normalized pattern.
// Returns true when the same pattern just hit the auto-guardrail threshold,
// in which case a sign has been appended to guardrails.md.
func (s *Store) AppendError(iteration int, errText string) (bool, error) {
	entry := fmt.Sprintf("[Iteration %d] [%s] %s\n",
		iteration, time.Now().UTC().Format("2006-01-02 15:04:05"), errText)
	if err := s.append(errorsFile, entry); err != nil {
		return false, err
	}

	st, err := s.ReadState()
	if err != nil {
		return false, err
	}
	if st.ErrorCounts == nil {
		st.ErrorCounts = make(map[string]int)
	}
	key := NormalizeErrorKey(errText)
	st.ErrorCounts[key]++
	count := st.ErrorCounts[key]
	if err := s.WriteState(st); err != nil {
		return false, err
	}

	if count != autoGuardrailThreshold {
		return false, nil
	}

	sign := key
	if len(sign) > 30 {
		sign = sign[:30]
	}
	trigger := errText
	if len(trigger) > 200 {
		trigger = trigger[:200]
	}
	return true, s.AddGuardrail(
		"Auto-detected: "+sign,
		trigger,
		fmt.Sprintf("This error has occurred %d times. Review the approach and try a different strategy.", count),
		st.Iteration,
	)
}

// AddGuardrail appends one structured sign to guardrails.md.
func (s *Store) AddGuardrail(sign, trigger, instruction string, iteration int) error {
	entry := fmt.Sprintf(`
### Sign: %s
- **Trigger:** %s
- **Instruction:** %s
- **Added:** Iteration %d
`, sign, trigger, instruction, iteration)
	return s.append(guardrailsFile, entry)
}

// NormalizeErrorKey reduces an error to a stable pattern key: first 100
// characters, alphanumerics and spaces only, lowercased, first 10 words
// joined by underscores.
func NormalizeErrorKey(errText string) string {
	runes := []rune(errText)
	if len(runes) > 100 {
		runes = runes[:100]
	}
	var b strings.Builder
	for _, r := range runes {
		if r == ' ' || r == '\t' || r == '\n' ||
			('a' <= r && r <= 'z') || ('A' <= r && r <= 'Z') || ('0' <= r && r <= '9') {
			b.WriteRune(r)
		}
	}
	words := strings.Fields(strings.ToLower(b.String()))
	if len(words) > 10 {
		words = words[:10]
	}
	return strings.Join(words, "_")
}

// AppendActivity records one completed iteration.
func (s *Store) AppendActivity(iteration int, duration time.Duration, toolCalls int, reason string) error {
	dur := "unknown"
	if duration > 0 {
		secs := int(duration.Seconds())
		dur = fmt.Sprintf("%dm %ds", secs/60, secs%60)
	}
	tools := "?"
	if toolCalls >= 0 {
		tools = fmt.Sprintf("%d", toolCalls)
	}
	entry := fmt.Sprintf("[%s] Iteration %d completed | Duration: %s | Tool calls: %s | Reason: %s\n",
		time.Now().UTC().Format("2006-01-02 15:04:05"), iteration, dur, tools, reason)
	return s.append(activityFile, entry)
}

// RecentActivity returns the last n activity lines, oldest first, prefixed
// for prompt injection. Empty when there is no activity yet.
func (s *Store) RecentActivity(n int) string {
	text := s.readAll(activityFile)
	if text == "" {
		return ""
	}
	lines := strings.Split(strings.TrimRight(text, "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	var b strings.Builder
	b.WriteString("Recent iteration outcomes:\n")
	for _, line := range lines {
		fmt.Fprintf(&b, "  %s\n", line)
	}
	return b.String()
}

// AppendHistory records one session transition, keeping at most
// maxSessionHistory lines.
func (s *Store) AppendHistory(fromState, toState, details string) error {
	st, err := s.ReadState()
	if err != nil {
		return err
	}

	detailsStr := ""
	if details != "" {
		detailsStr = " | " + details
	}
	entry := fmt.Sprintf("[%s] [Iter %d] %s -> %s%s\n",
		time.Now().UTC().Format("15:04:05"), st.Iteration, fromState, toState, detailsStr)

	content := s.readAll(historyFile)
	lines := strings.Split(strings.TrimRight(content, "\n"), "\n")
	if content == "" {
		lines = nil
	}
	if len(lines) >= maxSessionHistory {
		lines = lines[len(lines)-maxSessionHistory+1:]
		content = strings.Join(lines, "\n") + "\n"
	}
	return s.write(historyFile, content+entry)
}

// History returns session_history.log lines, oldest first.
func (s *Store) History() []string {
	text := s.readAll(historyFile)
	if text == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(text, "\n"), "\n")
}

// WriteIterationPrompt composes the full prompt for the next iteration from
// the anchor, guardrails, progress, and recent activity, writes it to a file
// inside the loop directory, and returns its path. The file is piped into
// the agent at spawn.
func (s *Store) WriteIterationPrompt() (string, error) {
	st, err := s.ReadState()
	if err != nil {
		return "", err
	}

	recentSection := ""
	if recent := s.RecentActivity(5); recent != "" {
		recentSection = fmt.Sprintf("## Recent Activity\n%s\n", recent)
	}

	prompt := fmt.Sprintf(`# Loop Iteration %d

You are in an autonomous loop. Each iteration starts fresh - make incremental progress.

%s
## Your Task (Anchor)
%s

## Learned Constraints (Guardrails)
%s

## Progress So Far
%s

## Instructions for This Iteration
1. Read the anchor to understand your task
2. Check guardrails before taking actions
3. Continue from where progress.md left off
4. Update progress.md with your work
5. If you hit a repeating problem, add a SIGN to guardrails.md
6. When ALL criteria are met, write either:
   - "%s" anywhere in progress.md, OR
   - <promise>COMPLETE</promise> tag (more explicit)
7. Exit when you've made progress (don't try to finish everything)

Remember: progress persists, failures evaporate. Make incremental progress.
`,
		st.Iteration+1, recentSection, s.AnchorText(), s.GuardrailsText(),
		s.ProgressText(), st.StopWord)

	path := filepath.Join(s.dir, promptFile)
	if err := os.WriteFile(path, []byte(prompt), 0644); err != nil {
		return "", fmt.Errorf("writing iteration prompt: %w", err)
	}
	return path, nil
}

// ContinuationMessage builds the short text sent into a running agent's
// session to start the next iteration. Unlike the spawn prompt it must fit a
// keystroke injection, so it points at the files instead of inlining them.
func (s *Store) ContinuationMessage(iteration, maxIterations int, stopWord string) string {
	return fmt.Sprintf(
		"Continue the loop (iteration %d of %d). Re-read %s/anchor.md and %s/guardrails.md, continue from %s/progress.md, and append your progress there. Write %q or <promise>COMPLETE</promise> to progress.md when all criteria are met.",
		iteration, maxIterations, DirName, DirName, DirName, stopWord)
}

func (s *Store) readAll(name string) string {
	data, err := os.ReadFile(filepath.Join(s.dir, name))
	if err != nil {
		return ""
	}
	return string(data)
}

func (s *Store) write(name, content string) error {
	if err := os.WriteFile(filepath.Join(s.dir, name), []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	return nil
}

func (s *Store) append(name, content string) error {
	f, err := os.OpenFile(filepath.Join(s.dir, name), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", name, err)
	}
	defer f.Close()
	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("appending %s: %w", name, err)
	}
	return nil
}
