package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// DefaultSubjectPrefix 默认 subject 前缀
const DefaultSubjectPrefix = "vmhost"

// natsConn 需要用到的 *nats.Conn 方法
type natsConn interface {
	Publish(subj string, data []byte) error
	IsClosed() bool
	Drain() error
	Close()
}

// NATSPublisher 发布事件到 NATS
//
// subject 格式：<prefix>.vm.<action>，失败事件为 <prefix>.vm.<action>.failed
type NATSPublisher struct {
	nc     natsConn
	prefix string
}

var _ Publisher = (*NATSPublisher)(nil)

// NewNATSPublisher 连接 NATS，断线后无限重连
func NewNATSPublisher(url, prefix string, logger zerolog.Logger) (*NATSPublisher, error) {
	opts := []nats.Option{
		nats.Name("vmhost"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect nats %s: %w", url, err)
	}
	return newNATSPublisher(nc, prefix), nil
}

func newNATSPublisher(nc natsConn, prefix string) *NATSPublisher {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	return &NATSPublisher{nc: nc, prefix: prefix}
}

// Subject 返回事件的 subject
func (p *NATSPublisher) Subject(ev Event) string {
	subject := p.prefix + ".vm." + string(ev.Action)
	if ev.Failed() {
		subject += ".failed"
	}
	return subject
}

// Publish 实现 Publisher
func (p *NATSPublisher) Publish(_ context.Context, ev Event) error {
	if p.nc == nil || p.nc.IsClosed() {
		return fmt.Errorf("nats not connected")
	}
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return p.nc.Publish(p.Subject(ev), data)
}

// Close 发送完缓冲区中的消息后关闭连接
func (p *NATSPublisher) Close() error {
	if p.nc == nil {
		return nil
	}
	err := p.nc.Drain()
	p.nc.Close()
	return err
}
