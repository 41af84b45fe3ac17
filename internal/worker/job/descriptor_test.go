package job_test

import (
	"errors"
	"testing"

	"github.com/patrikpihlstrom/anna-worker/internal/worker/job"
)

func TestParseDescriptor_Valid(t *testing.T) {
	cases := []struct {
		name   string
		data   string
		wantID string
	}{
		{"numeric id", `{"id": 42, "container": "", "driver": "firefox", "site": "test", "status": "pending"}`, "42"},
		{"string id", `{"id": "abc", "container": "", "driver": "chrome", "site": "shop", "status": "PENDING", "tag": "", "log": ""}`, "abc"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := job.ParseDescriptor([]byte(tc.data))
			if err != nil {
				t.Fatalf("ParseDescriptor: %v", err)
			}
			if d.ID != tc.wantID {
				t.Errorf("ID = %q, want %q", d.ID, tc.wantID)
			}
		})
	}
}

func TestParseDescriptor_Rejects(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"malformed", `{"id": `},
		{"not an object", `[1, 2]`},
		{"missing site", `{"id": 1, "container": "", "driver": "firefox", "status": "pending"}`},
		{"missing container", `{"id": 1, "driver": "firefox", "site": "s", "status": "pending"}`},
		{"wrong type", `{"id": 1, "container": 5, "driver": "firefox", "site": "s", "status": "pending"}`},
		{"fractional id", `{"id": 1.5, "container": "", "driver": "firefox", "site": "s", "status": "pending"}`},
		{"empty id", `{"id": "", "container": "", "driver": "firefox", "site": "s", "status": "pending"}`},
		{"unsupported driver", `{"id": 1, "container": "", "driver": "safari", "site": "s", "status": "pending"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := job.ParseDescriptor([]byte(tc.data))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, job.ErrInvalid) {
				t.Errorf("expected errors.Is(err, ErrInvalid), got %v", err)
			}
		})
	}
}

func TestDescriptor_ValidateDriver(t *testing.T) {
	d := job.Descriptor{ID: "1", Driver: "safari", Site: "s", Status: job.StatusPending}
	err := d.Validate()
	var ve *job.ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if ve.Field != "driver" {
		t.Errorf("Field = %q, want driver", ve.Field)
	}
}

func TestDescriptor_NewJob(t *testing.T) {
	d := job.Descriptor{ID: "7", Driver: job.DriverChrome, Site: "shop", Status: "running", Container: "stale", Log: "old"}
	j := d.NewJob()
	if j.Status != job.StatusPending {
		t.Errorf("Status = %q, want pending", j.Status)
	}
	if j.Container != "" || j.Log != "" {
		t.Errorf("new job must not inherit container/log: %+v", j)
	}
	if j.Tag != "chrome-shop" {
		t.Errorf("Tag = %q", j.Tag)
	}
	if j.Changed {
		t.Error("new job must not be marked changed")
	}
}
