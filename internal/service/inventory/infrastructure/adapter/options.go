package adapter

import "time"

// Option 配置 Redis 适配器
type Option func(*settings)

type settings struct {
	now func() time.Time
}

// WithClock 替换适配器使用的时钟，测试中配合 miniredis.FastForward 使用
func WithClock(now func() time.Time) Option {
	return func(s *settings) {
		s.now = now
	}
}

func newSettings(opts []Option) settings {
	s := settings{now: time.Now}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}
