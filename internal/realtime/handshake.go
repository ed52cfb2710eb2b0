package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	HeaderSessionID = "X-Session-Id"

	maxAnswerBytes    = 1 << 20
	maxRejectBodySize = 4 << 10
)

// CallRequest is the call-creation form: the local SDP offer plus the initial
// session configuration.
type CallRequest struct {
	URL      string
	APIKey   string
	OfferSDP string
	Session  SessionConfig
}

type CallAnswer struct {
	SDP        string
	SessionID  string
	StatusCode int
}

// CreateCall posts the offer to the calls endpoint and returns the SDP answer.
// A non-2xx status, or a 2xx with an empty body, yields *CallRejectedError.
func CreateCall(ctx context.Context, client *http.Client, req CallRequest) (CallAnswer, error) {
	ctx, span := tracer.Start(ctx, "realtime.create_call")
	defer span.End()

	body, contentType, err := encodeCallForm(req.OfferSDP, req.Session)
	if err != nil {
		span.RecordError(err)
		return CallAnswer{}, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, req.URL, bytes.NewReader(body))
	if err != nil {
		span.RecordError(err)
		return CallAnswer{}, fmt.Errorf("build call request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+req.APIKey)
	httpReq.Header.Set("Content-Type", contentType)

	resp, err := client.Do(httpReq)
	if err != nil {
		err = fmt.Errorf("post call: %w", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "request failed")
		return CallAnswer{}, err
	}
	defer resp.Body.Close()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxRejectBodySize))
		err := &CallRejectedError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
		span.RecordError(err)
		span.SetStatus(codes.Error, "call rejected")
		return CallAnswer{StatusCode: resp.StatusCode}, err
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxAnswerBytes+1))
	if err != nil {
		err = fmt.Errorf("read answer: %w", err)
		span.RecordError(err)
		return CallAnswer{StatusCode: resp.StatusCode}, err
	}
	if len(raw) > maxAnswerBytes {
		err := errors.New("answer exceeds 1MiB")
		span.RecordError(err)
		return CallAnswer{StatusCode: resp.StatusCode}, err
	}
	answer := CallAnswer{
		SDP:        string(raw),
		SessionID:  strings.TrimSpace(resp.Header.Get(HeaderSessionID)),
		StatusCode: resp.StatusCode,
	}
	if strings.TrimSpace(answer.SDP) == "" {
		err := &CallRejectedError{StatusCode: resp.StatusCode, Body: "empty SDP answer"}
		span.RecordError(err)
		span.SetStatus(codes.Error, "call rejected")
		return answer, err
	}
	if answer.SessionID != "" {
		span.SetAttributes(attribute.String("realtime.session_id", answer.SessionID))
	}
	return answer, nil
}

// encodeCallForm renders the multipart/form-data body with an "sdp" part
// (application/sdp) and a "session" part (application/json).
func encodeCallForm(sdp string, session SessionConfig) ([]byte, string, error) {
	sessionJSON, err := json.Marshal(session)
	if err != nil {
		return nil, "", fmt.Errorf("encode session: %w", err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, part := range []struct {
		name, contentType string
		data              []byte
	}{
		{"sdp", "application/sdp", []byte(sdp)},
		{"session", "application/json", sessionJSON},
	} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, part.name))
		h.Set("Content-Type", part.contentType)
		w, err := mw.CreatePart(h)
		if err != nil {
			return nil, "", fmt.Errorf("create %s part: %w", part.name, err)
		}
		if _, err := w.Write(part.data); err != nil {
			return nil, "", fmt.Errorf("write %s part: %w", part.name, err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, "", fmt.Errorf("close form: %w", err)
	}
	return buf.Bytes(), mw.FormDataContentType(), nil
}
