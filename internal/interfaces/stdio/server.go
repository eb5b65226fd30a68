package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/vertexmcp/vertexmcp/internal/domain/service"
	domaintool "github.com/vertexmcp/vertexmcp/internal/domain/tool"
	"github.com/vertexmcp/vertexmcp/pkg/safego"
)

// Service is the application surface the protocol dispatches to.
type Service interface {
	Query(ctx context.Context, prompt, sessionID string, parts []service.Part) (string, error)
	Search(ctx context.Context, query string) (string, error)
	FetchDoc(id string) (string, error)
	ListTools() []domaintool.Definition
}

// Request is one inbound protocol message.
type Request struct {
	ID     json.RawMessage `json:"id,omitempty"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params,omitempty"`
}

// ContentItem is one element of a response's content list.
type ContentItem struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// Response is one outbound protocol message. Every request, including a
// failing one, gets a well-formed response.
type Response struct {
	ID      json.RawMessage `json:"id,omitempty"`
	Content []ContentItem   `json:"content"`
	IsError bool            `json:"isError,omitempty"`
}

type queryParams struct {
	Prompt    string         `json:"prompt"`
	SessionID string         `json:"sessionId,omitempty"`
	Parts     []service.Part `json:"parts,omitempty"`
}

type searchParams struct {
	Query string `json:"query"`
}

type fetchParams struct {
	ID string `json:"id"`
}

// Server speaks the client protocol over a byte stream, one JSON object
// per line. Requests are handled concurrently; response writes are
// serialized.
type Server struct {
	svc    Service
	in     io.Reader
	out    io.Writer
	logger *zap.Logger

	writeMu sync.Mutex
}

// NewServer creates a protocol server reading from in and writing to out.
func NewServer(svc Service, in io.Reader, out io.Writer, logger *zap.Logger) *Server {
	return &Server{svc: svc, in: in, out: out, logger: logger}
}

// Run serves until the input stream closes or ctx is cancelled. In-flight
// requests are awaited before returning.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	scanner := bufio.NewScanner(s.in)
	scanner.Buffer(make([]byte, 0, 64*1024), 10*1024*1024)

	var wg sync.WaitGroup
	for scanner.Scan() {
		if ctx.Err() != nil {
			break
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.writeError(nil, "invalid request: "+err.Error())
			continue
		}

		wg.Add(1)
		safego.Go(s.logger, "stdio-request", func() {
			defer wg.Done()
			s.dispatch(ctx, &req)
		})
	}
	wg.Wait()
	return scanner.Err()
}

func (s *Server) dispatch(ctx context.Context, req *Request) {
	text, err := s.handle(ctx, req)
	if err != nil {
		s.logger.Warn("Request failed",
			zap.String("method", req.Method),
			zap.Error(err),
		)
		s.writeError(req.ID, err.Error())
		return
	}
	s.write(&Response{ID: req.ID, Content: []ContentItem{{Type: "text", Text: text}}})
}

func (s *Server) handle(ctx context.Context, req *Request) (string, error) {
	return Handle(ctx, s.svc, req)
}

// Handle routes one protocol request to the service. Shared by every
// transport that speaks the protocol.
func Handle(ctx context.Context, svc Service, req *Request) (string, error) {
	switch req.Method {
	case "query":
		var p queryParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return "", err
		}
		if p.Prompt == "" {
			return "", errMissing("prompt")
		}
		return svc.Query(ctx, p.Prompt, p.SessionID, p.Parts)

	case "search":
		var p searchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return "", err
		}
		if p.Query == "" {
			return "", errMissing("query")
		}
		return svc.Search(ctx, p.Query)

	case "fetch":
		var p fetchParams
		if err := unmarshalParams(req.Params, &p); err != nil {
			return "", err
		}
		if p.ID == "" {
			return "", errMissing("id")
		}
		return svc.FetchDoc(p.ID)

	case "tools/list":
		tools := svc.ListTools()
		data, err := json.Marshal(map[string]interface{}{"tools": tools})
		if err != nil {
			return "", err
		}
		return string(data), nil

	default:
		return "", &protocolError{"unknown method: " + req.Method}
	}
}

func (s *Server) write(resp *Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		s.logger.Error("Cannot marshal response", zap.Error(err))
		return
	}
	data = append(data, '\n')

	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if _, err := s.out.Write(data); err != nil {
		s.logger.Error("Cannot write response", zap.Error(err))
	}
}

func (s *Server) writeError(id json.RawMessage, message string) {
	s.write(&Response{
		ID:      id,
		Content: []ContentItem{{Type: "text", Text: message}},
		IsError: true,
	})
}

type protocolError struct{ msg string }

func (e *protocolError) Error() string { return e.msg }

func errMissing(field string) error {
	return &protocolError{"missing required parameter: " + field}
}

func unmarshalParams(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return &protocolError{"invalid params: " + err.Error()}
	}
	return nil
}
