package schedules

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGet_FetchesScheduleByID(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "sched-1", "workflowDefinitionId": "pipeline", "cron": "0 * * * *", "isActive": true,
		})
	}))
	defer srv.Close()
	t.Setenv("CATALOGD_URL", srv.URL)

	cmd := NewCommand()
	cmd.SetArgs([]string{"get", "sched-1"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "/v1/schedules/sched-1", gotPath)
}

func TestEnable_PostsToEnableEndpoint(t *testing.T) {
	var gotPath, gotMethod string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotMethod = r.Method
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "sched-1", "isActive": true})
	}))
	defer srv.Close()
	t.Setenv("CATALOGD_URL", srv.URL)

	cmd := NewCommand()
	cmd.SetArgs([]string{"enable", "sched-1"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, http.MethodPost, gotMethod)
	require.Equal(t, "/v1/schedules/sched-1/enable", gotPath)
}

func TestDisable_PostsToDisableEndpoint(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "sched-1", "isActive": false})
	}))
	defer srv.Close()
	t.Setenv("CATALOGD_URL", srv.URL)

	cmd := NewCommand()
	cmd.SetArgs([]string{"disable", "sched-1"})
	require.NoError(t, cmd.Execute())
	require.Equal(t, "/v1/schedules/sched-1/disable", gotPath)
}
