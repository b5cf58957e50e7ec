package wire

import (
	"bufio"
	"fmt"
	"net"
	"sync"
)

// Conn wraps a net.Conn with buffered I/O and a write mutex, so multiple
// goroutines (a request path and a subscription pump, say) can share one
// TCP connection safely. Grounded on the same bufio.Reader/Writer-plus-
// mutex shape used for multiplexed RPC connections elsewhere in the
// ecosystem.
type Conn struct {
	raw net.Conn
	r   *bufio.Reader
	w   *bufio.Writer

	writeMu sync.Mutex
}

// NewConn wraps an already-dialed or accepted net.Conn.
func NewConn(raw net.Conn) *Conn {
	return &Conn{
		raw: raw,
		r:   bufio.NewReader(raw),
		w:   bufio.NewWriter(raw),
	}
}

// RemoteAddr returns the underlying connection's remote address string.
func (c *Conn) RemoteAddr() string {
	if c.raw == nil {
		return ""
	}
	return c.raw.RemoteAddr().String()
}

// Close closes the underlying connection.
func (c *Conn) Close() error {
	return c.raw.Close()
}

// WriteFrame serializes kind/v and flushes it to the connection, holding
// the write lock for the duration so frames from concurrent writers never
// interleave.
func (c *Conn) WriteFrame(kind FrameKind, v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := WriteFrame(c.w, kind, v); err != nil {
		return err
	}
	return c.w.Flush()
}

// ReadFrame blocks until the next frame arrives and returns its kind and
// raw payload. Only one goroutine may call ReadFrame on a given Conn at a
// time; grain's client and server each dedicate a single reader goroutine
// per connection.
func (c *Conn) ReadFrame() (FrameKind, []byte, error) {
	return ReadFrame(c.r)
}

// ReadRequest reads the next frame and decodes it as a Request. It returns
// an error if the frame's kind isn't FrameRequest.
func (c *Conn) ReadRequest() (*Request, error) {
	kind, payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	if kind != FrameRequest {
		return nil, fmt.Errorf("wire: expected request frame, got kind %d", kind)
	}

	var req Request
	if err := Decode(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ReadSubscriptionRequest reads the next frame and decodes it as a
// SubscriptionRequest.
func (c *Conn) ReadSubscriptionRequest() (*SubscriptionRequest, error) {
	kind, payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	if kind != FrameSubscriptionRequest {
		return nil, fmt.Errorf(
			"wire: expected subscription request frame, got kind %d", kind)
	}

	var req SubscriptionRequest
	if err := Decode(payload, &req); err != nil {
		return nil, err
	}
	return &req, nil
}

// ReadResponse reads the next frame and decodes it as a Response.
func (c *Conn) ReadResponse() (*Response, error) {
	kind, payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	if kind != FrameResponse {
		return nil, fmt.Errorf("wire: expected response frame, got kind %d", kind)
	}

	var resp Response
	if err := Decode(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ReadSubscriptionResponse reads the next frame and decodes it as a
// SubscriptionResponse.
func (c *Conn) ReadSubscriptionResponse() (*SubscriptionResponse, error) {
	kind, payload, err := c.ReadFrame()
	if err != nil {
		return nil, err
	}
	if kind != FrameSubscriptionResponse {
		return nil, fmt.Errorf(
			"wire: expected subscription response frame, got kind %d", kind)
	}

	var resp SubscriptionResponse
	if err := Decode(payload, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// WriteRequest is a typed convenience wrapper over WriteFrame.
func (c *Conn) WriteRequest(req *Request) error {
	return c.WriteFrame(FrameRequest, req)
}

// WriteResponse is a typed convenience wrapper over WriteFrame.
func (c *Conn) WriteResponse(resp *Response) error {
	return c.WriteFrame(FrameResponse, resp)
}

// WriteSubscriptionRequest is a typed convenience wrapper over WriteFrame.
func (c *Conn) WriteSubscriptionRequest(req *SubscriptionRequest) error {
	return c.WriteFrame(FrameSubscriptionRequest, req)
}

// WriteSubscriptionResponse is a typed convenience wrapper over WriteFrame.
func (c *Conn) WriteSubscriptionResponse(resp *SubscriptionResponse) error {
	return c.WriteFrame(FrameSubscriptionResponse, resp)
}
