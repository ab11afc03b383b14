package wire

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/bcorn-cely/Agent-Orchestration/codec"
)

func TestNewRequestFrame(t *testing.T) {
	t.Parallel()

	data := map[string]string{"name": "org-validation"}
	frame, err := NewRequestFrame("frame-1", MethodRunStart, data)
	if err != nil {
		t.Fatalf("NewRequestFrame: %v", err)
	}

	if frame.ID != "frame-1" {
		t.Errorf("ID = %q, want %q", frame.ID, "frame-1")
	}
	if frame.Type != FrameRequest {
		t.Errorf("Type = %q, want %q", frame.Type, FrameRequest)
	}
	if frame.Method != MethodRunStart {
		t.Errorf("Method = %q, want %q", frame.Method, MethodRunStart)
	}
	if frame.Timestamp.IsZero() {
		t.Error("Timestamp should not be zero")
	}

	var payload map[string]string
	if err := json.Unmarshal(frame.Data, &payload); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
	if payload["name"] != "org-validation" {
		t.Errorf("payload name = %q, want %q", payload["name"], "org-validation")
	}
}

func TestNewResponseFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewResponseFrame("correl-1", map[string]string{"status": "ok"})
	if err != nil {
		t.Fatalf("NewResponseFrame: %v", err)
	}

	if frame.Type != FrameResponse {
		t.Errorf("Type = %q, want %q", frame.Type, FrameResponse)
	}
	if frame.CorrelID != "correl-1" {
		t.Errorf("CorrelID = %q, want %q", frame.CorrelID, "correl-1")
	}
	if frame.ID == "" {
		t.Error("ID should be auto-generated")
	}
}

func TestNewErrorFrame(t *testing.T) {
	t.Parallel()

	frame := NewErrorFrame("correl-2", ErrCodeNotFound, "not found")
	if frame.Type != FrameErr {
		t.Errorf("Type = %q, want %q", frame.Type, FrameErr)
	}
	if frame.CorrelID != "correl-2" {
		t.Errorf("CorrelID = %q, want %q", frame.CorrelID, "correl-2")
	}
	if frame.Error == nil {
		t.Fatal("Error should not be nil")
	}
	if frame.Error.Code != ErrCodeNotFound {
		t.Errorf("Error.Code = %d, want %d", frame.Error.Code, ErrCodeNotFound)
	}
	if frame.Error.Message != "not found" {
		t.Errorf("Error.Message = %q, want %q", frame.Error.Message, "not found")
	}
}

func TestNewEventFrame(t *testing.T) {
	t.Parallel()

	frame, err := NewEventFrame("run:run-1", map[string]string{"step": "validate"})
	if err != nil {
		t.Fatalf("NewEventFrame: %v", err)
	}

	if frame.Type != FrameEvent {
		t.Errorf("Type = %q, want %q", frame.Type, FrameEvent)
	}
	if frame.Channel != "run:run-1" {
		t.Errorf("Channel = %q, want %q", frame.Channel, "run:run-1")
	}
}

func TestGenerateFrameID(t *testing.T) {
	t.Parallel()

	id1 := GenerateFrameID()
	if id1 == "" {
		t.Error("GenerateFrameID returned empty string")
	}

	// Should produce unique IDs.
	time.Sleep(time.Millisecond)
	id2 := GenerateFrameID()
	if id1 == id2 {
		t.Error("two calls to GenerateFrameID should produce different IDs")
	}
}

func TestFrameCodecRoundtrip(t *testing.T) {
	t.Parallel()

	codecs := []codec.Codec{&codec.JSON{}, &codec.Msgpack{}}

	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			original := &Frame{
				ID:        "test-1",
				Type:      FrameRequest,
				Method:    MethodRunStart,
				Token:     "secret",
				AppID:     "app-1",
				OrgID:     "org-1",
				Data:      json.RawMessage(`{"name":"test"}`),
				Credits:   10,
				Timestamp: time.Now().UTC().Truncate(time.Millisecond),
			}

			data, err := c.Marshal(original)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			var decoded Frame
			if err := c.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			if decoded.ID != original.ID {
				t.Errorf("ID = %q, want %q", decoded.ID, original.ID)
			}
			if decoded.Type != original.Type {
				t.Errorf("Type = %q, want %q", decoded.Type, original.Type)
			}
			if decoded.Method != original.Method {
				t.Errorf("Method = %q, want %q", decoded.Method, original.Method)
			}
			if decoded.Token != original.Token {
				t.Errorf("Token = %q, want %q", decoded.Token, original.Token)
			}
			if decoded.Credits != original.Credits {
				t.Errorf("Credits = %d, want %d", decoded.Credits, original.Credits)
			}
		})
	}
}

func TestFrameCodecErrorDetail(t *testing.T) {
	t.Parallel()

	codecs := []codec.Codec{&codec.JSON{}, &codec.Msgpack{}}

	for _, c := range codecs {
		t.Run(c.Name(), func(t *testing.T) {
			original := &Frame{
				ID:       "err-1",
				Type:     FrameErr,
				CorrelID: "req-1",
				Error: &ErrorDetail{
					Code:    500,
					Message: "internal error",
					Details: "context here",
				},
				Timestamp: time.Now().UTC().Truncate(time.Millisecond),
			}

			data, err := c.Marshal(original)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}

			var decoded Frame
			if err := c.Unmarshal(data, &decoded); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}

			if decoded.Error == nil {
				t.Fatal("Error should not be nil")
			}
			if decoded.Error.Code != 500 {
				t.Errorf("Error.Code = %d, want %d", decoded.Error.Code, 500)
			}
			if decoded.Error.Message != "internal error" {
				t.Errorf("Error.Message = %q, want %q", decoded.Error.Message, "internal error")
			}
			if decoded.Error.Details != "context here" {
				t.Errorf("Error.Details = %q, want %q", decoded.Error.Details, "context here")
			}
		})
	}
}

func TestFramePayloadTypes(t *testing.T) {
	t.Parallel()

	t.Run("AuthRequest", func(t *testing.T) {
		req := AuthRequest{Token: "test-token", Format: "json"}
		data, err := json.Marshal(req)
		if err != nil {
			t.Fatal(err)
		}
		var decoded AuthRequest
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Token != req.Token {
			t.Errorf("Token = %q, want %q", decoded.Token, req.Token)
		}
	})

	t.Run("RunStartRequest", func(t *testing.T) {
		req := RunStartRequest{
			Name:  "org-validation",
			Input: json.RawMessage(`{"domain":"nike.com"}`),
		}
		data, err := json.Marshal(req)
		if err != nil {
			t.Fatal(err)
		}
		var decoded RunStartRequest
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Name != req.Name {
			t.Errorf("Name = %q, want %q", decoded.Name, req.Name)
		}
	})

	t.Run("HookResumeRequest", func(t *testing.T) {
		req := HookResumeRequest{
			Token:   "apvl_01h2xcejqtf2nbrexx3vqjhp41",
			Payload: json.RawMessage(`{"approved":true}`),
			By:      "reviewer@example.com",
		}
		data, err := json.Marshal(req)
		if err != nil {
			t.Fatal(err)
		}
		var decoded HookResumeRequest
		if err := json.Unmarshal(data, &decoded); err != nil {
			t.Fatal(err)
		}
		if decoded.Token != req.Token {
			t.Errorf("Token = %q, want %q", decoded.Token, req.Token)
		}
		if decoded.By != req.By {
			t.Errorf("By = %q, want %q", decoded.By, req.By)
		}
	})
}
