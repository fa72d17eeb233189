package poll

import "github.com/hitoshi/tallyman/internal/model"

// Capability は管理APIの操作権限。
type Capability string

const (
	CapView               Capability = "view"
	CapEdit               Capability = "edit"
	CapDelete             Capability = "delete"
	CapChangeStatus       Capability = "change_status"
	CapManageParticipants Capability = "manage_participants"
	CapViewParticipants   Capability = "view_participants"
	CapViewResults        Capability = "view_results"
	CapManageStaff        Capability = "manage_staff"
)

// Capabilities はユーザーが投票に対して持つ操作権限の一覧。
type Capabilities struct {
	CanView               bool
	CanEdit               bool
	CanDelete             bool
	CanChangeStatus       bool
	CanManageParticipants bool
	CanViewParticipants   bool
	CanViewResults        bool
	CanManageStaff        bool
}

// Allows は指定の操作が許可されているかを返す。
func (c Capabilities) Allows(capability Capability) bool {
	switch capability {
	case CapView:
		return c.CanView
	case CapEdit:
		return c.CanEdit
	case CapDelete:
		return c.CanDelete
	case CapChangeStatus:
		return c.CanChangeStatus
	case CapManageParticipants:
		return c.CanManageParticipants
	case CapViewParticipants:
		return c.CanViewParticipants
	case CapViewResults:
		return c.CanViewResults
	case CapManageStaff:
		return c.CanManageStaff
	}
	return false
}

func fullCapabilities() Capabilities {
	return Capabilities{
		CanView:               true,
		CanEdit:               true,
		CanDelete:             true,
		CanChangeStatus:       true,
		CanManageParticipants: true,
		CanViewParticipants:   true,
		CanViewResults:        true,
		CanManageStaff:        true,
	}
}

// CapabilitiesFor はプラットフォームロールと投票ロールから操作権限を導出する。
// 複数の投票ロールを持つ場合は和集合になる。
func CapabilitiesFor(userRole model.UserRole, roles []model.PollRole) Capabilities {
	if userRole == model.UserRoleAdmin {
		return fullCapabilities()
	}

	var c Capabilities
	for _, r := range roles {
		switch r {
		case model.PollRoleManager:
			return fullCapabilities()
		case model.PollRoleEditor:
			c.CanView = true
			c.CanEdit = true
			c.CanManageParticipants = true
			c.CanViewParticipants = true
			c.CanViewResults = true
		case model.PollRoleAuditor:
			c.CanView = true
			c.CanViewParticipants = true
			c.CanViewResults = true
		}
	}
	return c
}

// Access はユーザーと投票の関係を解決した結果。
type Access struct {
	Poll         *model.Poll
	Actor        model.Actor
	Roles        []model.PollRole
	Capabilities Capabilities
}

// HasRole は指定の投票ロールを持つかを返す。
func (a *Access) HasRole(role model.PollRole) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}
