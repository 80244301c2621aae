package websocket

import (
	"context"
	"errors"
	"testing"

	"excalidraw-docsync/core"
	"excalidraw-docsync/docsync"
	"excalidraw-docsync/stores/memory"
)

func TestRoomSizes(t *testing.T) {
	roomsMutex.Lock()
	activeRooms = make(map[string]int)
	roomsMutex.Unlock()

	setRoomSize("doc-1", 2)
	setRoomSize("doc-2", 1)
	setRoomSize("doc-2", 0)

	rooms := GetActiveRooms()
	if len(rooms) != 1 || rooms["doc-1"] != 2 {
		t.Errorf("Unexpected rooms: %v", rooms)
	}

	rooms["doc-1"] = 99
	if GetActiveRooms()["doc-1"] != 2 {
		t.Error("GetActiveRooms() returned the live map")
	}
}

func TestExtractAck(t *testing.T) {
	var got map[string]any
	datas := []any{"doc", func(payload map[string]any) { got = payload }}

	ack, args := extractAck(datas)
	if ack == nil {
		t.Fatal("Expected ack to be extracted")
	}
	if len(args) != 1 || args[0] != "doc" {
		t.Errorf("Unexpected args: %v", args)
	}

	ack(nil, map[string]any{"status": "ok"})
	if got["status"] != "ok" {
		t.Errorf("Ack payload mismatch: %v", got)
	}

	ack, args = extractAck([]any{"doc", 42})
	if ack != nil || len(args) != 2 {
		t.Errorf("Non-function trailing arg treated as ack")
	}

	ack, args = extractAck(nil)
	if ack != nil || len(args) != 0 {
		t.Errorf("Empty args mismatch")
	}
}

func TestWrapAck_Signatures(t *testing.T) {
	boom := errors.New("boom")

	var nativePayload []any
	var nativeErr error
	wrapAck(func(payload []any, err error) {
		nativePayload, nativeErr = payload, err
	})(boom, map[string]any{"status": "error"})
	if nativeErr != boom || len(nativePayload) != 1 {
		t.Errorf("socket.io ack got (%v, %v)", nativePayload, nativeErr)
	}

	var gotErr error
	var gotPayload map[string]any
	wrapAck(func(err error, payload map[string]any) {
		gotErr, gotPayload = err, payload
	})(nil, map[string]any{"status": "ok"})
	if gotErr != nil || gotPayload["status"] != "ok" {
		t.Errorf("two-arg ack got (%v, %v)", gotErr, gotPayload)
	}

	var single any
	wrapAck(func(v any) { single = v })(boom, map[string]any{"status": "error"})
	if single != boom {
		t.Errorf("single-arg ack should receive the error, got %v", single)
	}

	var text string
	wrapAck(func(s string) { text = s })(boom, nil)
	if text != "boom" {
		t.Errorf("string ack got %q", text)
	}
}

func TestParseRoomArg(t *testing.T) {
	testCases := []struct {
		name    string
		args    []any
		want    string
		wantErr bool
	}{
		{"Valid", []any{"doc-1"}, "doc-1", false},
		{"Missing", nil, "", true},
		{"Not a string", []any{7}, "", true},
		{"Empty", []any{""}, "", true},
		{"Path traversal", []any{"../etc"}, "", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := parseRoomArg(tc.args)
			if (err != nil) != tc.wantErr {
				t.Fatalf("parseRoomArg() error = %v, wantErr %v", err, tc.wantErr)
			}
			if got != tc.want {
				t.Errorf("parseRoomArg() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseSaveArgs(t *testing.T) {
	called := false
	datas := []any{
		"doc",
		map[string]any{
			"excalidrawData": map[string]any{
				"elements": []any{map[string]any{"id": "a"}},
				"appState": map[string]any{},
			},
			"title": "Plan",
		},
		func(err error, payload map[string]any) { called = true },
	}

	docID, req, ack, err := parseSaveArgs(datas)
	if err != nil {
		t.Fatalf("parseSaveArgs() failed: %v", err)
	}
	if docID != "doc" {
		t.Errorf("docID = %q", docID)
	}
	if req.Data == nil || len(req.Data.Elements) != 1 || req.Data.Elements[0]["id"] != "a" {
		t.Errorf("Unexpected drawing: %+v", req.Data)
	}
	if req.Title == nil || *req.Title != "Plan" {
		t.Errorf("Unexpected title: %v", req.Title)
	}
	ack(nil, nil)
	if !called {
		t.Error("ack not extracted")
	}
}

func TestParseSaveArgs_Errors(t *testing.T) {
	testCases := []struct {
		name  string
		datas []any
	}{
		{"No payload", []any{"doc"}},
		{"Empty payload", []any{"doc", map[string]any{}}},
		{"Empty title", []any{"doc", map[string]any{"title": ""}}},
		{"Bad drawing", []any{"doc", map[string]any{"excalidrawData": "nope"}}},
		{"Bad room", []any{"", map[string]any{"title": "x"}}},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, _, err := parseSaveArgs(tc.datas); err == nil {
				t.Error("parseSaveArgs() succeeded, want error")
			}
		})
	}
}

func TestParseBroadcastArgs(t *testing.T) {
	payload := map[string]any{"__collabMessageId": "m-1"}
	roomID, gotPayload, metadata, ack := parseBroadcastArgs([]any{"doc", payload, "meta", func(map[string]any) {}})

	if roomID != "doc" || metadata != "meta" || ack == nil {
		t.Errorf("parseBroadcastArgs() = %q, %v, ack set %v", roomID, metadata, ack != nil)
	}
	if gotPayload.(map[string]any)["__collabMessageId"] != "m-1" {
		t.Errorf("Payload mismatch: %v", gotPayload)
	}

	roomID, _, _, _ = parseBroadcastArgs([]any{"doc", payload})
	if roomID != "" {
		t.Errorf("Short args should not yield a room, got %q", roomID)
	}
}

func TestMakeBroadcastAckPayload(t *testing.T) {
	resp := makeBroadcastAckPayload(map[string]any{"__collabMessageId": "m-1"}, nil)
	if resp["status"] != "ok" || resp["messageId"] != "m-1" {
		t.Errorf("Unexpected ack: %v", resp)
	}

	resp = makeBroadcastAckPayload("raw", errors.New("emit failed"))
	if resp["status"] != "error" || resp["error"] != "emit failed" {
		t.Errorf("Unexpected ack: %v", resp)
	}
	if _, ok := resp["messageId"]; ok {
		t.Error("messageId set for payload without one")
	}
}

func TestRecordPayload(t *testing.T) {
	session := docsync.NewSession("doc", memory.NewStore())
	defer session.Close(context.Background())

	record := core.PersistedRecord{LastModified: 5, WriterID: "w"}
	payload := recordPayload(session, record, "remote")

	if payload["documentId"] != "doc" || payload["origin"] != "remote" {
		t.Errorf("Unexpected payload: %v", payload)
	}
	if payload["sessionId"] != session.SessionID() || session.SessionID() == "" {
		t.Errorf("Unexpected payload: %v", payload)
	}
	if got, ok := payload["record"].(core.PersistedRecord); !ok || got.LastModified != 5 {
		t.Errorf("Record mismatch: %v", payload["record"])
	}
}
