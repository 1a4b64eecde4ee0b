package ledger

// 合约方法与事件名
const (
	methodGetUserProjects      = "getUserProjects"
	methodGetProject           = "getProject"
	methodGetProjectMilestones = "getProjectMilestones"
	methodGetMilestone         = "getMilestone"
	methodMilestoneSubmissions = "milestoneSubmissions"
	methodCreateProject        = "createProject"
	methodCreateMilestone      = "createMilestone"
	methodSubmitMilestone      = "submitMilestone"
	methodApproveMilestone     = "approveMilestone"
	EventProjectCreated        = "ProjectCreated"
	EventMilestoneCreated      = "MilestoneCreated"
	EventMilestoneSubmitted    = "MilestoneSubmitted"
	EventMilestoneApproved     = "MilestoneApproved"
	EventPaymentReleased       = "PaymentReleased"
)

// EscrowABI 托管合约内置 ABI
const EscrowABI = `[
	{"type":"function","name":"getUserProjects","stateMutability":"view",
	 "inputs":[{"name":"user","type":"address"}],
	 "outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"getProject","stateMutability":"view",
	 "inputs":[{"name":"projectId","type":"uint256"}],
	 "outputs":[
		{"name":"id","type":"uint256"},
		{"name":"client","type":"address"},
		{"name":"freelancer","type":"address"},
		{"name":"totalAmount","type":"uint256"},
		{"name":"title","type":"string"},
		{"name":"isCompleted","type":"bool"},
		{"name":"createdAt","type":"uint256"}]},
	{"type":"function","name":"getProjectMilestones","stateMutability":"view",
	 "inputs":[{"name":"projectId","type":"uint256"}],
	 "outputs":[{"name":"","type":"uint256[]"}]},
	{"type":"function","name":"getMilestone","stateMutability":"view",
	 "inputs":[{"name":"milestoneId","type":"uint256"}],
	 "outputs":[
		{"name":"id","type":"uint256"},
		{"name":"projectId","type":"uint256"},
		{"name":"description","type":"string"},
		{"name":"amount","type":"uint256"},
		{"name":"isSubmitted","type":"bool"},
		{"name":"isApproved","type":"bool"},
		{"name":"isPaid","type":"bool"}]},
	{"type":"function","name":"milestoneSubmissions","stateMutability":"view",
	 "inputs":[{"name":"milestoneId","type":"uint256"}],
	 "outputs":[{"name":"","type":"string"}]},
	{"type":"function","name":"createProject","stateMutability":"payable",
	 "inputs":[
		{"name":"freelancer","type":"address"},
		{"name":"totalAmount","type":"uint256"},
		{"name":"title","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"createMilestone","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"projectId","type":"uint256"},
		{"name":"description","type":"string"},
		{"name":"amount","type":"uint256"}],
	 "outputs":[]},
	{"type":"function","name":"submitMilestone","stateMutability":"nonpayable",
	 "inputs":[
		{"name":"milestoneId","type":"uint256"},
		{"name":"submissionHash","type":"string"}],
	 "outputs":[]},
	{"type":"function","name":"approveMilestone","stateMutability":"nonpayable",
	 "inputs":[{"name":"milestoneId","type":"uint256"}],
	 "outputs":[]},
	{"type":"event","name":"ProjectCreated","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"projectId","type":"uint256"},
		{"indexed":true,"name":"client","type":"address"},
		{"indexed":true,"name":"freelancer","type":"address"},
		{"indexed":false,"name":"totalAmount","type":"uint256"}]},
	{"type":"event","name":"MilestoneCreated","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"milestoneId","type":"uint256"},
		{"indexed":true,"name":"projectId","type":"uint256"},
		{"indexed":false,"name":"amount","type":"uint256"}]},
	{"type":"event","name":"MilestoneSubmitted","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"milestoneId","type":"uint256"},
		{"indexed":true,"name":"projectId","type":"uint256"}]},
	{"type":"event","name":"MilestoneApproved","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"milestoneId","type":"uint256"},
		{"indexed":true,"name":"projectId","type":"uint256"}]},
	{"type":"event","name":"PaymentReleased","anonymous":false,
	 "inputs":[
		{"indexed":true,"name":"milestoneId","type":"uint256"},
		{"indexed":true,"name":"freelancer","type":"address"},
		{"indexed":false,"name":"amount","type":"uint256"}]}
]`
