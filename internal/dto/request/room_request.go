package request

// CreateRoomRequest represents a room creation request
type CreateRoomRequest struct {
	Name string `json:"name" binding:"required,max=100"`
}

// UpdateRoomRequest represents a room update request. Omitted fields are unchanged.
type UpdateRoomRequest struct {
	Name               *string `json:"name,omitempty" binding:"omitempty,max=100"`
	CanInviteGuest     *bool   `json:"can_invite_guest,omitempty"`
	AudienceCanComment *bool   `json:"audience_can_comment,omitempty"`
}

// TargetMemberRequest names the member a host action applies to
type TargetMemberRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required,max=64"`
}

// MuteMemberRequest represents a host mute request
type MuteMemberRequest struct {
	TargetUserID string `json:"target_user_id" binding:"required,max=64"`
	IsMuted      *bool  `json:"is_muted" binding:"required"`
}

// PaginationRequest represents paging parameters
type PaginationRequest struct {
	Limit  int `form:"limit,default=20" binding:"min=1,max=100"`
	Offset int `form:"offset,default=0" binding:"min=0"`
}
