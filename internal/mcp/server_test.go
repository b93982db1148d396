package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/routegate/routegate/internal/common"
	"github.com/routegate/routegate/internal/routes"
)

// rpcReply is the decoded shape of a dispatched response.
type rpcReply struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      any             `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func decodeReply(t *testing.T, data []byte) rpcReply {
	t.Helper()
	var r rpcReply
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("response does not decode: %v\n%s", err, data)
	}
	return r
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	return NewServer("routegate-test", "0.0.1", common.NewSilentLogger())
}

func tableWithRoutes(t *testing.T, rts ...routes.RouteDescriptor) *routes.Table {
	t.Helper()
	return routes.NewTable(1, rts)
}

func echoRoute(method, path string) routes.RouteDescriptor {
	return routes.RouteDescriptor{
		Method: method,
		Path:   path,
		Handler: func(ctx context.Context, in routes.CallInput) (any, error) {
			return map[string]any{"params": in.Params, "query": in.Query, "body": in.Body}, nil
		},
	}
}

func TestHandleMessage_UnknownMethod(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":3,"method":"no/such/method"}`))
	reply := decodeReply(t, resp)

	if reply.Error == nil {
		t.Fatal("expected an error reply")
	}
	if reply.Error.Code != CodeMethodNotFound {
		t.Errorf("expected code %d, got %d", CodeMethodNotFound, reply.Error.Code)
	}
	if reply.ID != float64(3) {
		t.Errorf("expected id 3 echoed back, got %v", reply.ID)
	}
}

func TestHandleMessage_UnknownNotificationIsSilent(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	if resp != nil {
		t.Errorf("expected no response to a notification, got %s", resp)
	}
}

func TestHandleMessage_Initialize(t *testing.T) {
	s := newTestServer(t)

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"initialize","params":{}}`))
	reply := decodeReply(t, resp)

	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}

	var result struct {
		ProtocolVersion string `json:"protocolVersion"`
		ServerInfo      struct {
			Name string `json:"name"`
		} `json:"serverInfo"`
	}
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("result does not decode: %v", err)
	}
	if result.ProtocolVersion != protocolVersion {
		t.Errorf("expected protocol version %q, got %q", protocolVersion, result.ProtocolVersion)
	}
	if result.ServerInfo.Name != "routegate-test" {
		t.Errorf("expected server name routegate-test, got %q", result.ServerInfo.Name)
	}
}

func TestToolsList_FromTable(t *testing.T) {
	s := newTestServer(t)
	s.SwapTable(tableWithRoutes(t, echoRoute("GET", "/users/{id}"), echoRoute("POST", "/orders")))

	resp := s.HandleMessage(context.Background(), []byte(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	reply := decodeReply(t, resp)
	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}

	var result struct {
		Tools []struct {
			Name   string `json:"name"`
			Source string `json:"source"`
		} `json:"tools"`
	}
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("result does not decode: %v", err)
	}
	if len(result.Tools) != 2 {
		t.Fatalf("expected 2 tools, got %d", len(result.Tools))
	}
	if result.Tools[0].Name != "get_users_id" || result.Tools[1].Name != "post_orders" {
		t.Errorf("unexpected tool names: %+v", result.Tools)
	}
	if result.Tools[0].Source != SourceStatic {
		t.Errorf("expected static source, got %q", result.Tools[0].Source)
	}
}

func TestToolsCall_StaticRoute(t *testing.T) {
	s := newTestServer(t)
	s.SwapTable(tableWithRoutes(t, echoRoute("GET", "/users/{id}")))

	msg := `{"jsonrpc":"2.0","id":9,"method":"tools/call","params":{"name":"get_users_id","arguments":{"params":{"id":"42"}}}}`
	reply := decodeReply(t, s.HandleMessage(context.Background(), []byte(msg)))

	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}

	var result struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	}
	if err := json.Unmarshal(reply.Result, &result); err != nil {
		t.Fatalf("result does not decode: %v", err)
	}
	if len(result.Content) != 1 || result.Content[0].Type != "text" {
		t.Fatalf("expected one text content block, got %+v", result.Content)
	}
	if !strings.Contains(result.Content[0].Text, `"id":"42"`) {
		t.Errorf("expected echoed path param in result text, got %s", result.Content[0].Text)
	}
}

func TestToolsCall_UnknownTool(t *testing.T) {
	s := newTestServer(t)

	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"nope"}}`
	reply := decodeReply(t, s.HandleMessage(context.Background(), []byte(msg)))

	if reply.Error == nil {
		t.Fatal("expected an error reply")
	}
	if reply.Error.Code != CodeInvalidParams {
		t.Errorf("expected code %d, got %d", CodeInvalidParams, reply.Error.Code)
	}
}

func TestToolsCall_HandlerError(t *testing.T) {
	s := newTestServer(t)
	failing := routes.RouteDescriptor{
		Method: "GET",
		Path:   "/broken",
		Handler: func(ctx context.Context, in routes.CallInput) (any, error) {
			return nil, errors.New("upstream exploded")
		},
	}
	s.SwapTable(tableWithRoutes(t, failing))

	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_broken"}}`
	reply := decodeReply(t, s.HandleMessage(context.Background(), []byte(msg)))

	if reply.Error == nil {
		t.Fatal("expected an error reply")
	}
	if reply.Error.Code != CodeInternalError {
		t.Errorf("expected code %d, got %d", CodeInternalError, reply.Error.Code)
	}
	if !strings.Contains(reply.Error.Message, "upstream exploded") {
		t.Errorf("expected handler error message, got %q", reply.Error.Message)
	}
}

// bridgeStub satisfies BridgeInvoker with canned results.
type bridgeStub struct {
	tools  map[string]string
	result json.RawMessage
	err    error
	calls  int
}

func (b *bridgeStub) CallTool(ctx context.Context, bridgeID, toolName string, args map[string]any) (json.RawMessage, error) {
	b.calls++
	return b.result, b.err
}

func (b *bridgeStub) FindTool(toolName string) (string, bool) {
	id, ok := b.tools[toolName]
	return id, ok
}

func TestToolsCall_BridgeRelay(t *testing.T) {
	s := newTestServer(t)
	stub := &bridgeStub{
		tools:  map[string]string{"remote_search": "search-server"},
		result: json.RawMessage(`{"content":[{"type":"text","text":"hit"}]}`),
	}
	s.SetBridges(stub)

	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"remote_search","arguments":{"q":"x"}}}`
	reply := decodeReply(t, s.HandleMessage(context.Background(), []byte(msg)))

	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}
	if stub.calls != 1 {
		t.Errorf("expected one bridge call, got %d", stub.calls)
	}
	if string(reply.Result) != string(stub.result) {
		t.Errorf("expected bridge result relayed verbatim, got %s", reply.Result)
	}
}

func TestToolsCall_StaticShadowsBridge(t *testing.T) {
	s := newTestServer(t)
	s.SwapTable(tableWithRoutes(t, echoRoute("GET", "/users/{id}")))
	stub := &bridgeStub{tools: map[string]string{"get_users_id": "other"}}
	s.SetBridges(stub)

	msg := `{"jsonrpc":"2.0","id":1,"method":"tools/call","params":{"name":"get_users_id","arguments":{}}}`
	reply := decodeReply(t, s.HandleMessage(context.Background(), []byte(msg)))

	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}
	if stub.calls != 0 {
		t.Error("static route must take precedence over a bridge tool of the same name")
	}
}

func TestResourcesReadAndTemplates(t *testing.T) {
	s := newTestServer(t)
	s.Resources().Register(NewResource("doc://readme", "readme", "", "text/plain", "hello"))
	s.Resources().Register(NewResource("doc://users/{id}", "user-doc", "", "text/plain", "user {id}"))

	reply := decodeReply(t, s.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"resources/read","params":{"uri":"doc://users/42"}}`)))
	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}
	if !strings.Contains(string(reply.Result), "user 42") {
		t.Errorf("expected substituted template content, got %s", reply.Result)
	}

	reply = decodeReply(t, s.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":2,"method":"resources/read","params":{"uri":"doc://missing"}}`)))
	if reply.Error == nil || reply.Error.Code != CodeInvalidParams {
		t.Errorf("expected %d for unknown resource, got %+v", CodeInvalidParams, reply.Error)
	}

	reply = decodeReply(t, s.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":3,"method":"resources/templates/list"}`)))
	if !strings.Contains(string(reply.Result), "doc://users/{id}") {
		t.Errorf("expected template listing, got %s", reply.Result)
	}
}

func TestPromptsGet(t *testing.T) {
	s := newTestServer(t)
	s.Prompts().Register(NewPrompt("greet", "Greeting", "Hello {name}!"))

	reply := decodeReply(t, s.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":1,"method":"prompts/get","params":{"name":"greet","arguments":{"name":"Ada"}}}`)))
	if reply.Error != nil {
		t.Fatalf("unexpected error: %+v", reply.Error)
	}
	if !strings.Contains(string(reply.Result), "Hello Ada!") {
		t.Errorf("expected rendered prompt, got %s", reply.Result)
	}

	reply = decodeReply(t, s.HandleMessage(context.Background(),
		[]byte(`{"jsonrpc":"2.0","id":2,"method":"prompts/get","params":{"name":"greet","arguments":{}}}`)))
	if reply.Error == nil || reply.Error.Code != CodeInvalidParams {
		t.Errorf("expected %d for missing argument, got %+v", CodeInvalidParams, reply.Error)
	}
}

// recordingClient captures broadcast messages.
type recordingClient struct {
	id   string
	msgs [][]byte
}

func (c *recordingClient) ID() string { return c.id }
func (c *recordingClient) Send(msg []byte) error {
	c.msgs = append(c.msgs, msg)
	return nil
}
func (c *recordingClient) Close() error { return nil }

func TestRefreshTable_NotifiesClients(t *testing.T) {
	s := newTestServer(t)
	client := &recordingClient{id: "c1"}
	s.Register(client)

	s.RefreshTable(context.Background(), tableWithRoutes(t, echoRoute("GET", "/users/{id}")))

	if len(client.msgs) != 1 {
		t.Fatalf("expected 1 notification, got %d", len(client.msgs))
	}
	msg := string(client.msgs[0])
	if !strings.Contains(msg, MethodToolsChanged) {
		t.Errorf("expected %s notification, got %s", MethodToolsChanged, msg)
	}
	if !strings.Contains(msg, "get_users_id") {
		t.Errorf("expected the full tool list in the payload, got %s", msg)
	}
}

func TestSwapTable_DoesNotNotify(t *testing.T) {
	s := newTestServer(t)
	client := &recordingClient{id: "c1"}
	s.Register(client)

	s.SwapTable(tableWithRoutes(t, echoRoute("GET", "/users/{id}")))

	if len(client.msgs) != 0 {
		t.Errorf("initial swap must not broadcast, got %d messages", len(client.msgs))
	}
}

func TestHandleMessage_ParseError(t *testing.T) {
	s := newTestServer(t)
	reply := decodeReply(t, s.HandleMessage(context.Background(), []byte("{")))
	if reply.Error == nil || reply.Error.Code != CodeParseError {
		t.Errorf("expected %d, got %+v", CodeParseError, reply.Error)
	}
}
