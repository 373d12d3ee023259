package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ascentlog/syncclient/internal/models"
)

// runCLI executes the command tree against the database at dbPath
func runCLI(t *testing.T, dbPath string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(append([]string{"--db", dbPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func setupCLIEnv(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("CLIMBSYNC_DATABASE_AUDIT_PATH", filepath.Join(dir, "audit.db"))
	t.Setenv("CLIMBSYNC_SYNC_DEVICE_ID", "device-a")
	t.Setenv("CLIMBSYNC_SYNC_SCHEDULE", "")
	t.Setenv("CLIMBSYNC_REMOTE_BASE_URL", "")
	t.Setenv("CLIMBSYNC_LOGGING_LEVEL", "error")
	return filepath.Join(dir, "sync.db")
}

// ackServer is a sync server that acknowledges every pushed mutation
type ackServer struct {
	mu     sync.Mutex
	pushed []string
}

func (s *ackServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/v1/sync/push":
		var req struct {
			Mutations []struct {
				OpID string `json:"opId"`
			} `json:"mutations"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		resp := models.PushResponse{AcknowledgedOpIDs: []string{}}
		s.mu.Lock()
		for _, m := range req.Mutations {
			s.pushed = append(s.pushed, m.OpID)
			resp.AcknowledgedOpIDs = append(resp.AcknowledgedOpIDs, m.OpID)
		}
		s.mu.Unlock()
		json.NewEncoder(w).Encode(resp)
	case "/v1/sync/pull":
		json.NewEncoder(w).Encode(models.PullResponse{Changes: []models.PullChange{}})
	default:
		http.NotFound(w, r)
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{"", FormatTable, false},
		{"table", FormatTable, false},
		{"JSON", FormatJSON, false},
		{"yaml", FormatYAML, false},
		{"xml", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRenderer_RenderTable(t *testing.T) {
	t.Run("aligns columns", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf, FormatTable)
		require.NoError(t, r.RenderTable([]string{"ID", "NAME"}, [][]string{{"p1", "Board"}, {"plan-22", "Campus"}}))

		lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
		require.Len(t, lines, 4)
		assert.Equal(t, "ID       NAME", lines[0])
		assert.Equal(t, "-------  ----", lines[1])
		assert.Equal(t, "p1       Board", lines[2])
		assert.Equal(t, "plan-22  Campus", lines[3])
	})

	t.Run("empty table", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf, FormatTable)
		require.NoError(t, r.RenderTable([]string{"ID"}, nil))
		assert.Equal(t, "(none)\n", buf.String())
	})

	t.Run("yaml", func(t *testing.T) {
		var buf bytes.Buffer
		r := NewRenderer(&buf, FormatYAML)
		require.NoError(t, r.Render(models.Doc{"grade": models.IntValue(7)}, nil))
		assert.Equal(t, "grade: 7\n", buf.String())
	})
}

func TestParseAssignments(t *testing.T) {
	t.Run("strings and json scalars", func(t *testing.T) {
		p, err := parseAssignments([]string{"name=Hangboard", "grade:=7", "done:=true", "note:=null", "expr=a:=b"})
		require.NoError(t, err)
		assert.Equal(t, []string{"name", "grade", "done", "note", "expr"}, p.Keys())

		v, _ := p.Get("grade")
		n, err := v.AsInt64()
		require.NoError(t, err)
		assert.Equal(t, int64(7), n)

		v, _ = p.Get("note")
		assert.True(t, v.IsNull())

		v, _ = p.Get("expr")
		s, err := v.AsString()
		require.NoError(t, err)
		assert.Equal(t, "a:=b", s)
	})

	t.Run("rejects malformed arguments", func(t *testing.T) {
		_, err := parseAssignments([]string{"oops"})
		assert.Error(t, err)

		_, err = parseAssignments([]string{"tags:=[1,2]"})
		assert.ErrorIs(t, err, models.ErrUnsupportedValueJSON)
	})
}

func TestCommands(t *testing.T) {
	t.Run("status before enabling", func(t *testing.T) {
		dbPath := setupCLIEnv(t)

		out, err := runCLI(t, dbPath, "status", "-o", "json")
		require.NoError(t, err)

		var status models.SyncStatusResponse
		require.NoError(t, json.Unmarshal([]byte(out), &status))
		assert.False(t, status.IsSyncEnabled)
		assert.Equal(t, "device-a", status.DeviceID)
	})

	t.Run("enable requires a user", func(t *testing.T) {
		dbPath := setupCLIEnv(t)

		_, err := runCLI(t, dbPath, "enable")
		assert.Error(t, err)
	})

	t.Run("edits are queued once sync is enabled", func(t *testing.T) {
		dbPath := setupCLIEnv(t)

		out, err := runCLI(t, dbPath, "rows", "set", "plans", "p1", "name=Board")
		require.NoError(t, err)
		assert.Contains(t, out, "nothing queued")

		out, err = runCLI(t, dbPath, "enable", "--user", "user-1")
		require.NoError(t, err)
		assert.Contains(t, out, "Sync enabled for user-1")

		out, err = runCLI(t, dbPath, "rows", "set", "plans", "p1", "name=Board v2")
		require.NoError(t, err)
		assert.Contains(t, out, "queued")

		out, err = runCLI(t, dbPath, "outbox", "-o", "json")
		require.NoError(t, err)
		var items []models.OutboxItem
		require.NoError(t, json.Unmarshal([]byte(out), &items))
		require.Len(t, items, 1)
		assert.Equal(t, "plans", items[0].Entity)
		assert.Equal(t, "p1", items[0].EntityID)

		out, err = runCLI(t, dbPath, "rows", "get", "plans", "p1", "-o", "yaml")
		require.NoError(t, err)
		assert.Contains(t, out, "name: Board v2")
	})

	t.Run("sync without a remote fails", func(t *testing.T) {
		dbPath := setupCLIEnv(t)
		_, err := runCLI(t, dbPath, "enable", "--user", "user-1")
		require.NoError(t, err)
		_, err = runCLI(t, dbPath, "rows", "set", "plans", "p1", "name=Board")
		require.NoError(t, err)

		_, err = runCLI(t, dbPath, "sync")
		require.Error(t, err)
		assert.ErrorIs(t, err, errRemoteNotConfigured)
	})

	t.Run("sync pushes to the remote", func(t *testing.T) {
		dbPath := setupCLIEnv(t)
		remote := &ackServer{}
		srv := httptest.NewServer(remote)
		defer srv.Close()
		t.Setenv("CLIMBSYNC_REMOTE_BASE_URL", srv.URL)

		_, err := runCLI(t, dbPath, "enable", "--user", "user-1")
		require.NoError(t, err)
		_, err = runCLI(t, dbPath, "rows", "set", "plans", "p1", "name=Board")
		require.NoError(t, err)

		out, err := runCLI(t, dbPath, "sync", "-o", "json")
		require.NoError(t, err)
		var report models.SyncReport
		require.NoError(t, json.Unmarshal([]byte(out), &report))
		assert.Equal(t, 1, report.Push.Acknowledged)
		assert.Len(t, remote.pushed, 1)

		out, err = runCLI(t, dbPath, "outbox", "-o", "json")
		require.NoError(t, err)
		assert.Equal(t, "[]\n", out)
	})

	t.Run("conflict commands on an empty queue", func(t *testing.T) {
		dbPath := setupCLIEnv(t)

		out, err := runCLI(t, dbPath, "conflicts", "list")
		require.NoError(t, err)
		assert.Equal(t, "(none)\n", out)

		_, err = runCLI(t, dbPath, "conflicts", "keep-server", "missing")
		assert.ErrorIs(t, err, models.ErrMutationNotFound)

		_, err = runCLI(t, dbPath, "conflicts", "resolve-all", "--choice", "both")
		assert.ErrorIs(t, err, models.ErrInvalidResolution)

		out, err = runCLI(t, dbPath, "conflicts", "auto")
		require.NoError(t, err)
		assert.Contains(t, out, "Auto-resolved 0")
	})

	t.Run("hash-key", func(t *testing.T) {
		out, err := runCLI(t, "unused.db", "hash-key", "secret")
		require.NoError(t, err)
		assert.True(t, strings.HasPrefix(out, "$2a$"), out)
	})
}
