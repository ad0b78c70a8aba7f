package errs

import (
	"errors"
	"strconv"
	"strings"
)

// 错误码分段：11xx 鉴权，12xx 参数/指令校验，13xx 存储，14xx 并发冲突
var (
	ErrNoPermission     = NewCodeError(1101, "无管理员权限，无法执行此操作")
	ErrCommandFormat    = NewCodeError(1201, "指令格式错误")
	ErrFieldRequired    = NewCodeError(1202, "set指令必须指定精确字段")
	ErrParamPair        = NewCodeError(1203, "参数数量不正确，对象和值必须成对出现")
	ErrValueInvalid     = NewCodeError(1204, "参数值不合法")
	ErrStoreUnavailable = NewCodeError(1301, "存储服务不可用")
	ErrWriteConflict    = NewCodeError(1401, "并发写入冲突")
)

func NewCodeError(code int, msg string) *CodeError {
	return &CodeError{
		Code: code,
		Msg:  msg,
	}
}

type CodeError struct {
	Code   int    `json:"code"`
	Msg    string `json:"msg"`
	Detail string `json:"detail,omitempty"`
}

// WithDetail 返回带补充信息的副本，原错误不变
func (e *CodeError) WithDetail(detail string) *CodeError {
	d := detail
	if e.Detail != "" {
		d = e.Detail + ", " + detail
	}
	return &CodeError{
		Code:   e.Code,
		Msg:    e.Msg,
		Detail: d,
	}
}

func (e *CodeError) Error() string {
	v := make([]string, 0, 3)
	v = append(v, strconv.Itoa(e.Code), e.Msg)
	if e.Detail != "" {
		v = append(v, e.Detail)
	}
	return strings.Join(v, " ")
}

// Is 按错误码判等，支持 errors.Is 链上比较
func (e *CodeError) Is(err error) bool {
	var ce *CodeError
	if !errors.As(err, &ce) {
		return false
	}
	return ce.Code == e.Code
}
