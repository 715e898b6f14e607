package provision

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestLoadPlansEmptyDirGivesDefault(t *testing.T) {
	reg, err := LoadPlans("", zap.NewNop().Sugar())
	require.NoError(t, err)

	plan, ok := reg.Get("")
	require.True(t, ok)
	require.Equal(t, "standard", plan.Name)
	require.Equal(t, "directory", plan.Steps[0].Name)
	require.NoError(t, plan.Validate())
}

func TestLoadPlansFromDir(t *testing.T) {
	dir := t.TempDir()
	yaml := `
name: trial
steps:
  - name: directory
    path: /v1/directory/spaces
    extract: space_id
  - name: notifications
    path: /v1/notify/channels
    method: PUT
    timeout_ms: 2500
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "trial.yaml"), []byte(yaml), 0o644))
	jsonPlan := `{"steps":[{"name":"directory","path":"/v1/directory/spaces"}]}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "minimal.json"), []byte(jsonPlan), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("ignore me"), 0o644))

	reg, err := LoadPlans(dir, zap.NewNop().Sugar())
	require.NoError(t, err)

	trial, ok := reg.Get("trial")
	require.True(t, ok)
	want := []Step{
		{Name: "directory", Path: "/v1/directory/spaces", Extract: "space_id"},
		{Name: "notifications", Path: "/v1/notify/channels", Method: "PUT", TimeoutMS: 2500},
	}
	if diff := cmp.Diff(want, trial.Steps); diff != "" {
		t.Fatalf("loaded steps mismatch (-want +got):\n%s", diff)
	}

	// Name falls back to the file name.
	minimal, ok := reg.Get("minimal")
	require.True(t, ok)
	require.Len(t, minimal.Steps, 1)

	_, ok = reg.Get("nope")
	require.False(t, ok)

	// Built-in default survives alongside loaded plans.
	_, ok = reg.Get("standard")
	require.True(t, ok)
}

func TestLoadPlansRejectsBadPlan(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "empty.yaml"), []byte("name: empty\nsteps: []\n"), 0o644))

	_, err := LoadPlans(dir, zap.NewNop().Sugar())
	require.Error(t, err)
}

func TestPlanValidate(t *testing.T) {
	dup := Plan{Name: "dup", Steps: []Step{
		{Name: "a", Path: "/x"},
		{Name: "a", Path: "/y"},
	}}
	require.Error(t, dup.Validate())

	missing := Plan{Name: "m", Steps: []Step{{Name: "", Path: "/x"}}}
	require.Error(t, missing.Validate())
}
