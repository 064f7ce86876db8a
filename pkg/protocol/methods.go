package protocol

// RPC method name constants accepted over the gateway WebSocket.

// Office commands
const (
	MethodOfficeStart       = "office.start"
	MethodOfficeApprovePlan = "office.approve_plan"
	MethodOfficeRejectPlan  = "office.reject_plan"
	MethodOfficeInject      = "office.inject"
	MethodOfficeClarify     = "office.clarify"
	MethodOfficePause       = "office.pause"
	MethodOfficeResume      = "office.resume"
	MethodOfficeStop        = "office.stop"
	MethodOfficeReset       = "office.reset"
	MethodOfficeSetInterval = "office.set_interval"
	MethodOfficeReports     = "office.reports"
	MethodOfficeEvents      = "office.events"
)

// Panel commands
const (
	MethodPanelStart    = "panel.start"
	MethodPanelSend     = "panel.send"
	MethodPanelApprove  = "panel.approve"
	MethodPanelReject   = "panel.reject"
	MethodPanelPause    = "panel.pause"
	MethodPanelResume   = "panel.resume"
	MethodPanelStop     = "panel.stop"
	MethodPanelReset    = "panel.reset"
	MethodPanelFollowUp = "panel.followup"
)

// Approval commands
const (
	MethodApprovalRequest = "approval.request"
	MethodApprovalResolve = "approval.resolve"
	MethodApprovalRules   = "approval.rules"
)

// System
const (
	MethodConnect = "connect"
	MethodHealth  = "health"
	MethodStatus  = "status"
)
