package connection

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dhpke/nmos-core/internal/registry"
)

func TestClient_PatchReceiver(t *testing.T) {
	var gotPath, gotMethod string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath, gotMethod = r.URL.Path, r.Method
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sender_id":null,"master_enable":false,"activation":{"mode":"activate_immediate","requested_time":null,"activation_time":"1:000000000"},"transport_file":{"data":null,"type":null},"transport_params":[{}]}`))
	}))
	defer srv.Close()

	c := NewClient(srv.Client(), 0, registry.BearerToken("t"))
	st, err := c.PatchReceiver(context.Background(), srv.URL+"/x-nmos/connection/v1.1/single/receivers/r1/", ReceiverRequest{Mode: ModeImmediate})
	if err != nil {
		t.Fatalf("PatchReceiver() error = %v", err)
	}

	if gotMethod != http.MethodPatch || gotPath != "/x-nmos/connection/v1.1/single/receivers/r1/staged" {
		t.Errorf("request = %s %s", gotMethod, gotPath)
	}
	if v, ok := gotBody["sender_id"]; !ok || v != nil {
		t.Errorf("sender_id = %v (present %v), want explicit null", v, ok)
	}
	if gotBody["master_enable"] != false {
		t.Errorf("master_enable = %v", gotBody["master_enable"])
	}
	act, _ := gotBody["activation"].(map[string]any)
	if act["mode"] != "activate_immediate" {
		t.Errorf("activation = %v", gotBody["activation"])
	}
	if _, ok := gotBody["transport_file"]; ok {
		t.Error("transport_file sent without being set")
	}
	if st.Role != RoleReceiver || st.Activation.ActivationTime == nil {
		t.Errorf("decoded state = %+v", st)
	}
}

func TestClient_ErrorsUseRegistryKinds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bad/staged":
			http.Error(w, `{"code":400,"error":"bad"}`, http.StatusBadRequest)
		case "/busy/staged":
			w.WriteHeader(http.StatusServiceUnavailable)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	c := NewClient(nil, 0, nil)
	tests := []struct {
		path string
		want error
	}{
		{"/bad", registry.ErrRejected},
		{"/busy", registry.ErrTransient},
		{"/gone", registry.ErrNotFound},
	}
	for _, tt := range tests {
		if _, err := c.PatchReceiver(context.Background(), srv.URL+tt.path, ReceiverRequest{}); !errors.Is(err, tt.want) {
			t.Errorf("PatchReceiver(%s) error = %v, want %v", tt.path, err, tt.want)
		}
	}
}

func TestClient_GetManifest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/sdp")
		_, _ = w.Write([]byte("v=0\r\n"))
	}))
	defer srv.Close()

	data, ct, err := NewClient(nil, 0, nil).GetManifest(context.Background(), srv.URL+"/tf")
	if err != nil {
		t.Fatalf("GetManifest() error = %v", err)
	}
	if data != "v=0\r\n" || ct != "application/sdp" {
		t.Errorf("manifest = %q (%s)", data, ct)
	}
}
