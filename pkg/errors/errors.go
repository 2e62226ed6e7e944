package errors

import "errors"

// ErrStateConflict 条件更新未命中：行的当前状态已不允许本次迁移。
// 状态机只朝终态单向推进，命中 0 行说明并发方已先行完成同一迁移
// 或该行已进入其他终态，调用方据此返回业务冲突而非重试。
var ErrStateConflict = errors.New("当前状态不允许该操作")
