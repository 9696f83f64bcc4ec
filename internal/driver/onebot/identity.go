package onebot

// DriverType is the configured driver type token for the OneBot v11 runtime.
const DriverType = "onebot"

// OneBot v11 actions used by the remote lookup.
const (
	actionGetGroupMemberInfo = "get_group_member_info"
	actionGetMsg             = "get_msg"
	actionGetGroupMsgHistory = "get_group_msg_history"
	actionGetForwardMsg      = "get_forward_msg"
)
