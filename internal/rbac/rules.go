package rbac

// Permission names are "<resource>:<action>"; a trailing "*" matches any action.
const (
	PermQuestionView   = "question:view"
	PermQuestionCreate = "question:create"
	PermQuestionUpdate = "question:update"
	PermQuestionDelete = "question:delete"
	PermRubricView     = "rubric:view"
	PermRubricCreate   = "rubric:create"
	PermRubricUpdate   = "rubric:update"
	PermRubricActivate = "rubric:activate"
	PermEvaluate       = "evaluation:create"
	PermEvalViewOwn    = "evaluation:view-own"
	PermEvalViewAll    = "evaluation:view-all"
	PermReviewSave     = "review:save"
	PermReviewAs       = "review:as_other" // attribute a review to someone else
	PermUsersList      = "users:list"
	PermUsersBulk      = "users:bulk_upsert"
	PermUsersSetRole   = "users:set_role"
	PermChangePassword = "user:change_password"
	PermEventsView     = "events:view"
)

var RolePermissions = map[string][]string{
	"student": {
		PermQuestionView,
		PermEvaluate,
		PermEvalViewOwn,
		PermChangePassword,
	},
	"teacher": {
		"question:*",
		"rubric:*",
		"evaluation:*",
		PermReviewSave,
		PermUsersList,
		PermUsersBulk,
		PermChangePassword,
	},
	"admin": {
		"*", // everything
	},
}
