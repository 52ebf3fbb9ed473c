package user

type User struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Password string `json:"-"`
}

// Projection is the minimal view of a user embedded in message and
// reaction payloads.
type Projection struct {
	ID       int64  `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
}

func (u User) Projection() Projection {
	return Projection{ID: u.ID, Name: u.Name, Username: u.Username}
}

type RegisterRequest struct {
	Name     string `json:"name" validate:"required,max=100"`
	Username string `json:"username" validate:"required,max=50"`
	Password string `json:"password" validate:"required,min=8"`
}

type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	ID          int64  `json:"id"`
	Name        string `json:"name"`
	Username    string `json:"username"`
}
