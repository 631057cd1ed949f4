package adapter

import (
	"errors"
	"fmt"
	"strings"

	goredis "github.com/redis/go-redis/v9"

	"nexus-inventory/internal/service/inventory/domain"
)

// redis 暂时无法服务时返回的错误前缀，稍后重试即可恢复
var unavailableReplies = []string{"LOADING", "READONLY", "MASTERDOWN", "CLUSTERDOWN", "TRYAGAIN", "BUSY"}

// storeError 只把连接失败、超时和上面这类回复包装成 StoreError。
// 脚本运行出错（例如索引记录损坏）是服务端的错误回复，重试也不会成功，原样返回。
func storeError(op string, err error) error {
	if err == nil {
		return nil
	}
	var reply goredis.Error
	if errors.As(err, &reply) && !isUnavailableReply(reply.Error()) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return domain.NewStoreError(op, err)
}

func isUnavailableReply(msg string) bool {
	for _, prefix := range unavailableReplies {
		if strings.HasPrefix(msg, prefix) {
			return true
		}
	}
	return false
}
