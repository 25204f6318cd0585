//go:build wireinject
// +build wireinject

package injector

import (
	"github.com/google/wire"
	"github.com/lk2023060901/chatai-backend/internal/chat/biz"
	"github.com/lk2023060901/chatai-backend/internal/conf"
	"github.com/lk2023060901/chatai-backend/internal/pkg/logger"
)

// InitializeApp initializes the HTTP application with Wire
func InitializeApp(config *conf.Config, log *logger.Logger) (*App, func(), error) {
	wire.Build(ProviderSet, newApp)
	return nil, nil, nil
}

// InitializeChat builds only the chat use case (console client)
func InitializeChat(config *conf.Config, log *logger.Logger) (*biz.ChatUseCase, func(), error) {
	wire.Build(chatProviderSet)
	return nil, nil, nil
}
