// Package progress 以装饰器形式为 transport 调用附加开始/进度/完成通知。
// 装饰器只做观测，不改变返回值与错误语义。
package progress

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/any-hub/resource-cache/internal/resource"
	"github.com/any-hub/resource-cache/internal/transport"
)

// Kind 区分被观测的操作类型。
type Kind string

const (
	KindMetadata Kind = "metadata"
	KindDownload Kind = "download"
	KindUpload   Kind = "upload"
)

// Operation 描述一次被观测的远程调用。
type Operation struct {
	Kind    Kind
	URI     string
	Size    int64
	Started time.Time
}

// Listener 接收通知；实现需可并发调用且不应阻塞。
type Listener interface {
	Started(op Operation)
	Progress(op Operation, transferred int64)
	Completed(op Operation, transferred int64, err error)
}

// WrapAccessor 返回带通知的 Accessor；listener 为 nil 时原样返回。
func WrapAccessor(accessor transport.Accessor, listener Listener) transport.Accessor {
	if listener == nil {
		return accessor
	}
	return &loggingAccessor{next: accessor, listener: listener}
}

// WrapUploader 返回带通知的 Uploader；listener 为 nil 时原样返回。
func WrapUploader(uploader transport.Uploader, listener Listener) transport.Uploader {
	if listener == nil {
		return uploader
	}
	return &loggingUploader{next: uploader, listener: listener}
}

type loggingAccessor struct {
	next     transport.Accessor
	listener Listener
}

func (a *loggingAccessor) Metadata(ctx context.Context, uri string) (resource.Metadata, error) {
	op := Operation{Kind: KindMetadata, URI: uri, Size: resource.UnknownSize, Started: time.Now()}
	a.listener.Started(op)
	meta, err := a.next.Metadata(ctx, uri)
	a.listener.Completed(op, 0, err)
	return meta, err
}

// Open 在正文读完或关闭时才发出 Completed，期间按读取进度发出 Progress。
func (a *loggingAccessor) Open(ctx context.Context, uri string) (*transport.Response, error) {
	op := Operation{Kind: KindDownload, URI: uri, Size: resource.UnknownSize, Started: time.Now()}
	a.listener.Started(op)
	resp, err := a.next.Open(ctx, uri)
	if err != nil {
		a.listener.Completed(op, 0, err)
		return resp, err
	}
	op.Size = resp.Metadata.Size
	wrapped := *resp
	wrapped.Body = &observedBody{ReadCloser: resp.Body, op: op, listener: a.listener}
	return &wrapped, nil
}

type loggingUploader struct {
	next     transport.Uploader
	listener Listener
}

func (u *loggingUploader) Upload(ctx context.Context, uri string, body io.ReadSeeker, size int64) error {
	op := Operation{Kind: KindUpload, URI: uri, Size: size, Started: time.Now()}
	u.listener.Started(op)
	counter := &countingReadSeeker{ReadSeeker: body, op: op, listener: u.listener}
	err := u.next.Upload(ctx, uri, counter, size)
	u.listener.Completed(op, counter.total(), err)
	return err
}

// observedBody 统计读取字节数，并在 EOF、读错误或 Close 时只通知一次 Completed。
type observedBody struct {
	io.ReadCloser
	op       Operation
	listener Listener

	mu        sync.Mutex
	read      int64
	completed bool
}

func (b *observedBody) Read(p []byte) (int, error) {
	n, err := b.ReadCloser.Read(p)
	b.mu.Lock()
	b.read += int64(n)
	read := b.read
	b.mu.Unlock()
	if n > 0 {
		b.listener.Progress(b.op, read)
	}
	if err == io.EOF {
		b.complete(nil)
	} else if err != nil {
		b.complete(err)
	}
	return n, err
}

func (b *observedBody) Close() error {
	err := b.ReadCloser.Close()
	b.complete(nil)
	return err
}

func (b *observedBody) complete(err error) {
	b.mu.Lock()
	if b.completed {
		b.mu.Unlock()
		return
	}
	b.completed = true
	read := b.read
	b.mu.Unlock()
	b.listener.Completed(b.op, read, err)
}

type countingReadSeeker struct {
	io.ReadSeeker
	op       Operation
	listener Listener

	mu   sync.Mutex
	read int64
}

func (c *countingReadSeeker) Read(p []byte) (int, error) {
	n, err := c.ReadSeeker.Read(p)
	if n > 0 {
		c.mu.Lock()
		c.read += int64(n)
		read := c.read
		c.mu.Unlock()
		c.listener.Progress(c.op, read)
	}
	return n, err
}

// Seek 回到起点时重新计数（认证重试会重放请求体）。
func (c *countingReadSeeker) Seek(offset int64, whence int) (int64, error) {
	pos, err := c.ReadSeeker.Seek(offset, whence)
	if err == nil {
		c.mu.Lock()
		c.read = pos
		c.mu.Unlock()
	}
	return pos, err
}

func (c *countingReadSeeker) total() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.read
}
