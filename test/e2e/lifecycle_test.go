package e2e

import (
	"bufio"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestOperationSucceeds(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	op := submitOp(t, sp, `{"kind":"echo"}`)
	id := op["id"].(string)
	if len(id) != 26 {
		t.Errorf("id = %q, expected 26-char ULID", id)
	}
	if op["status"] != "pending" {
		t.Errorf("status = %v, want pending", op["status"])
	}

	final := waitForOpStatus(t, sp, id, "succeeded", 5*time.Second)

	// []byte fields marshal as base64.
	resultB64, _ := final["result"].(string)
	result, err := base64.StdEncoding.DecodeString(resultB64)
	if err != nil {
		t.Fatalf("decode result: %v", err)
	}
	if string(result) != "hello from echo" {
		t.Errorf("result = %q, want %q", result, "hello from echo")
	}
	if final["finished_at"] == nil {
		t.Error("finished_at should be set on a terminal operation")
	}
}

func TestOperationFails(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	op := submitOp(t, sp, `{"kind":"flaky"}`)
	final := waitForOpStatus(t, sp, op["id"].(string), "failed", 5*time.Second)

	errMsg, _ := final["error"].(string)
	if !strings.Contains(errMsg, "stub failure") {
		t.Errorf("error = %q, want it to mention the handler failure", errMsg)
	}
}

func TestOperationExpires(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	op := submitOp(t, sp, `{"kind":"slow","timeout_ms":300}`)
	final := waitForOpStatus(t, sp, op["id"].(string), "expired", 5*time.Second)

	errMsg, _ := final["error"].(string)
	if !strings.Contains(errMsg, "could not be completed within its timeout") {
		t.Errorf("error = %q, want timeout message", errMsg)
	}
	if overrun, ok := final["overrun_ms"].(float64); !ok || overrun < 0 {
		t.Errorf("overrun_ms = %v, want a non-negative number", final["overrun_ms"])
	}
}

func TestOperationCancelled(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	op := submitOp(t, sp, `{"kind":"slow","timeout_ms":60000}`)
	id := op["id"].(string)
	waitForOpStatus(t, sp, id, "running", 5*time.Second)

	req, _ := http.NewRequest("DELETE", sp.url+"/v1/operations/"+id, nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != 202 {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}

	waitForOpStatus(t, sp, id, "cancelled", 5*time.Second)
}

func TestTransitionHistoryRecorded(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	op := submitOp(t, sp, `{"kind":"echo"}`)
	id := op["id"].(string)
	waitForOpStatus(t, sp, id, "succeeded", 5*time.Second)

	resp, err := http.Get(sp.url + "/v1/operations/" + id + "/history")
	if err != nil {
		t.Fatalf("GET history: %v", err)
	}
	defer resp.Body.Close()

	var hist struct {
		OperationID string `json:"operation_id"`
		Transitions []struct {
			Seq int    `json:"seq"`
			To  string `json:"to"`
		} `json:"transitions"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&hist); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if len(hist.Transitions) != 3 {
		t.Fatalf("got %d transitions, want 3: %+v", len(hist.Transitions), hist.Transitions)
	}
	want := []string{"pending", "running", "succeeded"}
	for i, tr := range hist.Transitions {
		if tr.To != want[i] {
			t.Errorf("transition[%d] = %q, want %q", i, tr.To, want[i])
		}
	}
}

func TestStatusEventStream(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	op := submitOp(t, sp, `{"kind":"echo"}`)
	id := op["id"].(string)

	resp, err := http.Get(sp.url + "/v1/operations/" + id + "/events")
	if err != nil {
		t.Fatalf("GET events: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q, want text/event-stream", ct)
	}

	var data []string
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		if d, ok := strings.CutPrefix(scanner.Text(), "data: "); ok {
			data = append(data, d)
		}
	}

	if len(data) == 0 {
		t.Fatal("received no SSE data")
	}
	if last := data[len(data)-1]; last != "stream complete" {
		t.Errorf("last event data = %q, want %q", last, "stream complete")
	}
	joined := strings.Join(data, ",")
	if !strings.Contains(joined, "succeeded") {
		t.Errorf("stream %v should include the terminal status", data)
	}
}

func TestStatsReflectOperations(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	for n := 0; n < 2; n++ {
		op := submitOp(t, sp, `{"kind":"echo"}`)
		waitForOpStatus(t, sp, op["id"].(string), "succeeded", 5*time.Second)
	}
	op := submitOp(t, sp, `{"kind":"flaky"}`)
	waitForOpStatus(t, sp, op["id"].(string), "failed", 5*time.Second)

	resp, err := http.Get(sp.url + "/v1/stats")
	if err != nil {
		t.Fatalf("GET /v1/stats: %v", err)
	}
	defer resp.Body.Close()

	var stats struct {
		Total    int            `json:"total"`
		ByStatus map[string]int `json:"by_status"`
		ByKind   map[string]int `json:"by_kind"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if stats.Total != 3 {
		t.Errorf("total = %d, want 3", stats.Total)
	}
	if stats.ByStatus["succeeded"] != 2 {
		t.Errorf("by_status[succeeded] = %d, want 2", stats.ByStatus["succeeded"])
	}
	if stats.ByStatus["failed"] != 1 {
		t.Errorf("by_status[failed] = %d, want 1", stats.ByStatus["failed"])
	}
	if stats.ByKind["echo"] != 2 {
		t.Errorf("by_kind[echo] = %d, want 2", stats.ByKind["echo"])
	}
}

func TestListPagination(t *testing.T) {
	sp := startServer(t, getBinary(t, "testserver"))

	for n := 0; n < 5; n++ {
		submitOp(t, sp, `{"kind":"echo"}`)
	}

	resp, err := http.Get(sp.url + "/v1/operations?limit=3&offset=0")
	if err != nil {
		t.Fatalf("GET /v1/operations: %v", err)
	}
	defer resp.Body.Close()

	var list struct {
		Operations []map[string]any `json:"operations"`
		Total      int              `json:"total"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		t.Fatalf("decode response: %v", err)
	}

	if list.Total != 5 {
		t.Errorf("total = %d, want 5", list.Total)
	}
	if len(list.Operations) != 3 {
		t.Errorf("got %d operations, want 3", len(list.Operations))
	}
}
