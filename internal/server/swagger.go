package server

//go:generate swag init -g internal/server/server.go -o internal/server/docs

// @title Kansa API
// @version 0.1
// @description Tenant security assessment and directory inventory runs.
// @contact.name Kansa Maintainers
// @contact.url https://github.com/raysh454/kansa
// @BasePath /
