/*
 * Copyright 2016 ClusterHQ
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package diagapi is a small read-only HTTP surface over a run journal, for
// an operator checking on a long-running imgdelta process without shelling
// in: GET /runs lists recent runs, GET /runs/{id} fetches one. It threads
// the journal store through request handling via context.Value the way the
// teacher's pre-1.7 command layer threaded its API URL and auth token,
// rather than closures or a handler struct.
package diagapi

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/context"

	"github.com/pborman/uuid"

	"github.com/sectorimg/imgdelta/internal/store"
)

type contextKey int

const storeKey contextKey = iota

// Response is the standard envelope for this API's JSON responses: a
// request ID, a success flag, and either a JSON result or an error message.
type Response struct {
	RequestID      uuid.UUID       `json:"request_id"`
	Method         string          `json:"method"`
	RequestPath    string          `json:"request_path"`
	Success        bool            `json:"success"`
	ProcessingTime float64         `json:"processing_time"`
	Result         json.RawMessage `json:"result,omitempty"`
	ErrorMessage   string          `json:"error_message,omitempty"`

	startTime time.Time
}

// NewResponse starts a Response for r.
func NewResponse(r *http.Request) *Response {
	return &Response{
		startTime:   time.Now(),
		RequestID:   uuid.NewRandom(),
		Success:     true,
		Method:      r.Method,
		RequestPath: r.URL.Path,
	}
}

// SetResult encodes value as the response's Result.
func (resp *Response) SetResult(value interface{}) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return err
	}
	resp.Result = json.RawMessage(encoded)
	return nil
}

// SetError marks the response as failed.
func (resp *Response) SetError(message string) {
	resp.Success = false
	resp.ErrorMessage = message
}

// Write sends the response as JSON with the given status code.
func (resp *Response) Write(status int, w http.ResponseWriter) error {
	resp.ProcessingTime = time.Since(resp.startTime).Seconds()

	body, err := json.Marshal(resp)
	if err != nil {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"error_message":"internal error"}`))
		return err
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, err = w.Write(body)
	return err
}

// NewMux builds the diagnostics handler, binding j into every request's
// context.
func NewMux(j *store.Store) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/runs", withStore(j, handleListRuns))
	mux.HandleFunc("/runs/", withStore(j, handleGetRun))
	return mux
}

func withStore(j *store.Store, handler func(context.Context, http.ResponseWriter, *http.Request)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(context.Background(), storeKey, j)
		handler(ctx, w, r)
	}
}

func storeFromContext(ctx context.Context) *store.Store {
	return ctx.Value(storeKey).(*store.Store)
}

func handleListRuns(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	resp := NewResponse(r)
	runs, err := storeFromContext(ctx).ListRuns(50)
	if err != nil {
		resp.SetError(err.Error())
		resp.Write(http.StatusInternalServerError, w)
		return
	}
	if err := resp.SetResult(runs); err != nil {
		resp.SetError(err.Error())
		resp.Write(http.StatusInternalServerError, w)
		return
	}
	resp.Write(http.StatusOK, w)
}

func handleGetRun(ctx context.Context, w http.ResponseWriter, r *http.Request) {
	resp := NewResponse(r)
	id := strings.TrimPrefix(r.URL.Path, "/runs/")
	if id == "" {
		resp.SetError("missing run id")
		resp.Write(http.StatusBadRequest, w)
		return
	}

	rec, err := storeFromContext(ctx).GetRun(id)
	if err != nil {
		resp.SetError(err.Error())
		resp.Write(http.StatusNotFound, w)
		return
	}
	if err := resp.SetResult(rec); err != nil {
		resp.SetError(err.Error())
		resp.Write(http.StatusInternalServerError, w)
		return
	}
	resp.Write(http.StatusOK, w)
}
