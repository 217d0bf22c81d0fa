// ABOUTME: Tests for tasks.md parsing: checkbox states, claimed markers,
// ABOUTME: worker attribution, and Pending-section scoping.

package progress

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleTasks = `# Tasks

## Pending

- [ ] [TASK-001] Implement the intake listener
- [~] [TASK-002] Wire the state store (worker: %42)
- [x] [TASK-003] Draft the event schema
- [ ] Add integration coverage

## Done

- [x] [TASK-000] Set up the repository
`

func TestParseTasks_Statuses(t *testing.T) {
	tasks := ParseTasks([]byte(sampleTasks))
	require.Len(t, tasks, 5)

	assert.Equal(t, "TASK-001", tasks[0].ID)
	assert.Equal(t, TaskPending, tasks[0].Status)
	assert.Equal(t, "Implement the intake listener", tasks[0].Description)
	assert.Equal(t, "Pending", tasks[0].Section)

	assert.Equal(t, "TASK-002", tasks[1].ID)
	assert.Equal(t, TaskClaimed, tasks[1].Status)
	assert.Equal(t, "%42", tasks[1].Worker)
	assert.Equal(t, "Wire the state store", tasks[1].Description)

	assert.Equal(t, TaskDone, tasks[2].Status)

	assert.Empty(t, tasks[3].ID)
	assert.Equal(t, TaskPending, tasks[3].Status)
	assert.Equal(t, "Add integration coverage", tasks[3].Description)

	assert.Equal(t, "TASK-000", tasks[4].ID)
	assert.Equal(t, TaskDone, tasks[4].Status)
	assert.Equal(t, "Done", tasks[4].Section)
}

func TestParseTasks_IgnoresPlainListItems(t *testing.T) {
	src := `## Pending

- just a note, not a task
- [ ] a real task
- another note
`
	tasks := ParseTasks([]byte(src))
	require.Len(t, tasks, 1)
	assert.Equal(t, "a real task", tasks[0].Description)
}

func TestParseTasks_Empty(t *testing.T) {
	assert.Empty(t, ParseTasks(nil))
	assert.Empty(t, ParseTasks([]byte("# Nothing here\n\nprose only\n")))
}

func TestStore_PendingTasks_ScopedToPendingSection(t *testing.T) {
	s := initStore(t)
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "tasks.md"), []byte(sampleTasks), 0644))

	pending, err := s.PendingTasks()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "TASK-001", pending[0].ID)
	assert.Equal(t, "Add integration coverage", pending[1].Description)
}

func TestStore_PendingTasks_UnsectionedFile(t *testing.T) {
	s := initStore(t)
	src := `- [ ] first
- [x] second
- [ ] third
`
	require.NoError(t, os.WriteFile(filepath.Join(s.Dir(), "tasks.md"), []byte(src), 0644))

	pending, err := s.PendingTasks()
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "first", pending[0].Description)
	assert.Equal(t, "third", pending[1].Description)
}

func TestStore_PendingTasks_MissingFile(t *testing.T) {
	s := initStore(t)
	pending, err := s.PendingTasks()
	require.NoError(t, err)
	assert.Empty(t, pending)
}
