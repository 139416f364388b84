package mq

import (
	"context"
	"errors"
)

// Publisher 变更事件的投递目标
type Publisher interface {
	Publish(ctx context.Context, topic, key string, payload []byte) error
	Close() error
}

// Fanout 把同一条消息投递到多个目标，任一失败即视为失败（由 outbox 重试）
type Fanout []Publisher

func (f Fanout) Publish(ctx context.Context, topic, key string, payload []byte) error {
	var errs []error
	for _, p := range f {
		if err := p.Publish(ctx, topic, key, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, p := range f {
		if err := p.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
