package errcode

// 错误码约定：
// - 0：无错误
// - 4xxx：业务可恢复/告警类错误（校验失败、部分失败、资源缺失）
// - 5xxx：系统错误（任务无法开始或中断）
const (
	OK               = 0
	ValidationFailed = 4000
	PartialFailure   = 4001
	ResourceMissing  = 4004
	SystemError      = 5000
)
