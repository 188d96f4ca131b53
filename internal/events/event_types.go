package events

// IdentityEventType enumerates the Keycloak lifecycle event discriminators
// this service reacts to. Any other value is a valid no-op.
type IdentityEventType string

const (
	EventRegister      IdentityEventType = "REGISTER"
	EventProfileUpdate IdentityEventType = "UPDATE_PROFILE"
)

// EventUserDeleted tags outbound deletion notifications.
const EventUserDeleted = "User_Deleted"

// IdentityEvent is the envelope Keycloak publishes to the broker. Field
// names follow the keycloak-event-listener wire format; which detail
// fields are populated depends on Type.
type IdentityEvent struct {
	Class     string               `json:"@class"`
	Time      int64                `json:"time"`
	Type      IdentityEventType    `json:"type"`
	RealmID   string               `json:"realmId"`
	ClientID  string               `json:"clientId"`
	UserID    string               `json:"userId"`
	IPAddress string               `json:"ipAddress"`
	Details   IdentityEventDetails `json:"details"`
}

// IdentityEventDetails carries event-specific fields; every field is
// optional on the wire.
type IdentityEventDetails struct {
	Context        string `json:"context,omitempty"`
	AuthMethod     string `json:"auth_method,omitempty"`
	AuthType       string `json:"auth_type,omitempty"`
	RegisterMethod string `json:"register_method,omitempty"`
	RedirectURI    string `json:"redirect_uri,omitempty"`
	CodeID         string `json:"code_id,omitempty"`
	Email          string `json:"email,omitempty"`
	Username       string `json:"username,omitempty"`
}

// Empty reports whether the envelope decoded to nothing usable.
func (e IdentityEvent) Empty() bool {
	return e.Type == "" && e.UserID == ""
}

// UserDeleted is the payload broadcast to downstream audiences after a
// user has been removed both externally and locally. The command and
// query flavors share this shape and differ only in destination exchange.
type UserDeleted struct {
	ID         int64  `json:"id"`
	KeycloakID string `json:"keycloak_id"`
	Name       string `json:"name"`
	Event      string `json:"event"`
}
