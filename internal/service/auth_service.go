package service

import (
	"context"

	"campus-chat/internal/model"
	"campus-chat/pkg/apperr"

	"golang.org/x/crypto/bcrypt"
)

// AccountStore 账号模块需要的用户存储, gorm 与内存仓储均实现
type AccountStore interface {
	Create(ctx context.Context, user *model.User) error
	FindByUsername(ctx context.Context, username string) (*model.User, error)
	FindByEmail(ctx context.Context, email string) (*model.User, error)
}

type TokenIssuer interface {
	GenerateToken(userID uint) (string, error)
}

// 处理认证相关业务逻辑, 为聊天模块签发凭证
type AuthService struct {
	users  AccountStore
	tokens TokenIssuer
}

// 创建一个新的认证服务实例
func NewAuthService(users AccountStore, tokens TokenIssuer) *AuthService {
	return &AuthService{
		users:  users,
		tokens: tokens,
	}
}

// 用户注册请求
type RegisterRequest struct {
	Username  string `json:"username" binding:"required,min=3,max=30"`
	Password  string `json:"password" binding:"required,min=6"`
	Email     string `json:"email" binding:"required,email"`
	AvatarURL string `json:"avatar_url"`
}

// 用户登陆请求
type LoginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

var errInvalidLogin = apperr.ErrAuthenticationFailed.WithMessage("invalid username or password")

// HashPassword 使用 bcrypt 加密密码
func HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

// 注册新用户
func (s *AuthService) Register(ctx context.Context, req RegisterRequest) (*model.User, error) {
	// 检查用户名是否已存在
	existingUser, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to look up username")
	}
	if existingUser != nil {
		return nil, apperr.ErrUserExists.WithMessage("username already exists")
	}

	// 检查邮箱是否已存在
	existingEmail, err := s.users.FindByEmail(ctx, req.Email)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to look up email")
	}
	if existingEmail != nil {
		return nil, apperr.ErrUserExists.WithMessage("email already exists")
	}

	hashedPassword, err := HashPassword(req.Password)
	if err != nil {
		return nil, apperr.Wrap(err, "failed to hash password")
	}

	user := &model.User{
		Username:  req.Username,
		Password:  hashedPassword,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
		Status:    model.UserStatusActive,
	}
	if err := s.users.Create(ctx, user); err != nil {
		return nil, apperr.Wrap(err, "failed to create user")
	}

	return user, nil
}

// 用户登陆
func (s *AuthService) Login(ctx context.Context, req LoginRequest) (string, *model.User, error) {
	// 查找用户
	user, err := s.users.FindByUsername(ctx, req.Username)
	if err != nil {
		return "", nil, apperr.Wrap(err, "failed to look up user")
	}
	if user == nil || user.Status == model.UserStatusBanned {
		return "", nil, errInvalidLogin
	}

	// 验证密码
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		return "", nil, errInvalidLogin
	}

	// 生成JWT令牌
	token, err := s.tokens.GenerateToken(user.ID)
	if err != nil {
		return "", nil, apperr.Wrap(err, "failed to issue token")
	}
	return token, user, nil
}
