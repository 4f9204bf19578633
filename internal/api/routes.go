// Package api wires the HTTP surface: go-chi router setup, public
// routes (/health, /auth/*) and JWT-protected routes (/api/v1/*).
package api

import (
	"database/sql"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/minjaeko/chatrelay/internal/api/handlers"
	apmiddleware "github.com/minjaeko/chatrelay/internal/api/middleware"
	domainauth "github.com/minjaeko/chatrelay/internal/domain/auth"
	domainchat "github.com/minjaeko/chatrelay/internal/domain/chat"
	"github.com/minjaeko/chatrelay/internal/domain/keyvault"
	"github.com/minjaeko/chatrelay/internal/domain/prefs"
	"github.com/minjaeko/chatrelay/internal/domain/relay"
	"github.com/minjaeko/chatrelay/internal/infra/config"
	"github.com/minjaeko/chatrelay/internal/infra/llm"
	"github.com/minjaeko/chatrelay/internal/version"
)

// NewRouter creates and configures the chi router with all routes.
// Public routes (/health, /auth/*) require no token; everything under
// /api/v1 requires a valid Bearer access token.
func NewRouter(db *sql.DB, cfg *config.Config) (*chi.Mux, error) {
	r := chi.NewRouter()

	// Global middleware (runs on all routes)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	cipher, err := keyvault.NewCipher(cfg.Vault.EncryptionKey)
	if err != nil {
		return nil, err
	}

	authService := domainauth.NewService(db)
	chatService := domainchat.NewService(db)
	vaultService := keyvault.NewService(db, cipher)
	prefsService := prefs.NewService(db)

	// One shared client so every provider observes the same request
	// timeout, which must cover a full streamed response.
	httpClient := &http.Client{Timeout: cfg.LLM.RequestTimeout}
	registry := llm.NewRegistry(
		llm.NewOpenAI(cfg.LLM.BaseURLs["openai"], httpClient),
		llm.NewAnthropic(cfg.LLM.BaseURLs["anthropic"], httpClient),
		llm.NewGemini(cfg.LLM.BaseURLs["google"], httpClient),
	)
	relayService := relay.New(chatService, vaultService, registry)

	// ===== PUBLIC ROUTES (no auth required) =====

	// Health check, used by load balancers and health probes.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"status":"ok","version":"` + version.Version + `"}`)) //nolint:errcheck
	})

	authHandler := handlers.NewAuthHandler(authService)
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.Register) // POST /auth/register
		r.Post("/login", authHandler.Login)       // POST /auth/login
		r.Post("/refresh", authHandler.Refresh)   // POST /auth/refresh
	})

	// ===== PROTECTED ROUTES (JWT required) =====

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(apmiddleware.Auth(authService))

		r.Route("/auth", func(r chi.Router) {
			r.Get("/user", authHandler.GetUser)                    // GET /api/v1/auth/user
			r.Put("/user", authHandler.UpdateUser)                 // PUT /api/v1/auth/user
			r.Post("/logout", authHandler.Logout)                  // POST /api/v1/auth/logout
			r.Post("/change-password", authHandler.ChangePassword) // POST /api/v1/auth/change-password
			r.Post("/verify-password", authHandler.VerifyPassword) // POST /api/v1/auth/verify-password
		})

		prefsHandler := handlers.NewPrefsHandler(prefsService)
		r.Route("/user/preferences", func(r chi.Router) {
			r.Get("/", prefsHandler.Get)       // GET /api/v1/user/preferences
			r.Put("/", prefsHandler.Put)       // PUT /api/v1/user/preferences
			r.Delete("/", prefsHandler.Delete) // DELETE /api/v1/user/preferences
		})

		apiKeyHandler := handlers.NewAPIKeyHandler(vaultService)
		r.Route("/api-keys", func(r chi.Router) {
			r.Post("/", apiKeyHandler.Save)                 // POST /api/v1/api-keys
			r.Get("/", apiKeyHandler.List)                  // GET /api/v1/api-keys
			r.Delete("/", apiKeyHandler.DeleteAll)          // DELETE /api/v1/api-keys
			r.Delete("/{provider}", apiKeyHandler.Delete)   // DELETE /api/v1/api-keys/{provider}
		})

		chatHandler := handlers.NewChatHandler(chatService)
		r.Route("/chats", func(r chi.Router) {
			r.Post("/", chatHandler.Create)      // POST /api/v1/chats
			r.Get("/", chatHandler.List)         // GET /api/v1/chats
			r.Get("/{id}", chatHandler.Get)      // GET /api/v1/chats/{id}
			r.Put("/{id}", chatHandler.Update)   // PUT /api/v1/chats/{id}
			r.Delete("/{id}", chatHandler.Delete) // DELETE /api/v1/chats/{id}

			r.Get("/{id}/messages", chatHandler.Messages)          // GET /api/v1/chats/{id}/messages
			r.Post("/{id}/messages", chatHandler.AddMessage)       // POST /api/v1/chats/{id}/messages
			r.Delete("/{id}/messages", chatHandler.ClearMessages)  // DELETE /api/v1/chats/{id}/messages
		})

		aiHandler := handlers.NewAIHandler(relayService)
		r.Route("/ai", func(r chi.Router) {
			r.Post("/chat/{chat_id}", aiHandler.Chat)          // POST /api/v1/ai/chat/{chat_id} (SSE)
			r.Post("/generate", aiHandler.Generate)            // POST /api/v1/ai/generate
			r.Post("/generate-multi", aiHandler.GenerateMulti) // POST /api/v1/ai/generate-multi
			r.Get("/providers", aiHandler.Providers)           // GET /api/v1/ai/providers
			r.Get("/health", aiHandler.Health)                 // GET /api/v1/ai/health
		})
	})

	return r, nil
}
