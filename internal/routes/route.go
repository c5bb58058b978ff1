package routes

import (
	"net/http"
	"strconv"

	"muni-portal/internal/auth"
	"muni-portal/internal/collaborator"
	"muni-portal/internal/config"
	"muni-portal/internal/handlers"
	"muni-portal/internal/logger"
	"muni-portal/internal/metrics"
	mdlwr "muni-portal/internal/middleware"
	"muni-portal/internal/services"
	"muni-portal/internal/storage"
	"muni-portal/internal/tasks"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/uptrace/bun"
	"go.uber.org/zap"
)

// Deps carries the shared infrastructure the router wires into handlers.
type Deps struct {
	DB    *bun.DB
	Cfg   *config.Config
	Logr  *logger.Logger
	Queue tasks.Enqueuer
	Store *storage.Store
}

func NewRouter(deps Deps) http.Handler {
	db, cfg, logr := deps.DB, deps.Cfg, deps.Logr

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(countRequests)

	// CORS middleware with config
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-CSRF-Token"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// init JWT manager
	jwtMgr, err := auth.NewJWTManager(cfg.JWTPrivateKeyPath, cfg.JWTPublicKeyPath, "muni-portal")
	if err != nil {
		logr.Fatal("failed to init jwt manager", zap.Error(err))
	}

	newAPI := func() collaborator.API {
		return collaborator.NewClient(cfg.CollaboratorBaseURL, cfg.CollaboratorUsername, cfg.CollaboratorPassword, cfg.CollaboratorTimeout)
	}

	// services
	authSvc := services.NewAuthService(db, jwtMgr, cfg, logr)
	pageSvc := services.NewPageService(db)
	serializer := services.NewPageSerializer(db, pageSvc)
	snippetSvc := services.NewSnippetService(db, deps.Store)
	requestSvc := services.NewServiceRequestService(db, deps.Queue, deps.Store, newAPI, cfg.DemarcationCode, logr.Logger)
	webhookSvc := services.NewWebhookService(db, logr.Logger)
	webpushSvc := services.NewWebPushService(db, deps.Queue, logr.Logger)

	authMW := mdlwr.NewAuthMiddleware(jwtMgr.PublicKey(), authSvc, logr.Logger)

	// handlers
	authHandler := handlers.NewAuthHandler(authSvc, logr, cfg)
	pagesHandler := handlers.NewPagesHandler(pageSvc, serializer, logr.Logger)
	requestHandler := handlers.NewServiceRequestHandler(requestSvc, logr.Logger)
	webhookHandler := handlers.NewWebhookHandler(webhookSvc, logr.Logger)
	webpushHandler := handlers.NewWebPushHandler(webpushSvc, logr.Logger)
	adminHandler := handlers.NewAdminHandler(pageSvc, snippetSvc, webhookSvc, webpushSvc, logr.Logger)
	mediaHandler := handlers.NewMediaHandler(deps.Store, logr.Logger)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/media/*", mediaHandler.Serve)

	r.Route("/api/v1", func(r chi.Router) {

		r.Route("/auth", func(r chi.Router) {
			// Public routes
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.LoginLocal)
			r.Post("/ldap", authHandler.LoginLDAP)
			r.Post("/refresh", authHandler.Refresh)

			// Protected routes
			r.Group(func(r chi.Router) {
				r.Use(authMW.JWTAuth)
				r.Post("/logout", authHandler.Logout)
			})
		})

		// Public read-only content API
		r.Route("/pages", func(r chi.Router) {
			r.Get("/", pagesHandler.List)
			r.Get("/find", pagesHandler.Find)
			r.Get("/{id}", pagesHandler.Get)
		})

		// Citizen case endpoints, scoped to the authenticated user
		r.Route("/service-requests", func(r chi.Router) {
			r.Use(authMW.JWTAuth)
			r.Post("/", requestHandler.Create)
			r.Get("/", requestHandler.List)
			r.Get("/{id}", requestHandler.Get)
			r.Post("/{id}/attachments", requestHandler.CreateAttachments)
			r.Get("/{id}/attachments", requestHandler.ListAttachments)
			r.Get("/{id}/attachments/{attachmentID}", requestHandler.GetAttachment)
		})

		// Inbound notifications from the Collaborator side
		r.Post("/webhooks/collaborator", webhookHandler.Receive)

		r.Route("/webpush", func(r chi.Router) {
			r.Use(authMW.JWTAuth)
			r.Post("/subscribe", webpushHandler.Subscribe)
			r.Post("/unsubscribe", webpushHandler.Unsubscribe)
		})

		// Staff-only management surface
		r.Route("/admin", func(r chi.Router) {
			r.Use(authMW.JWTAuth)
			r.Use(authMW.RequireRole(services.RoleStaff))

			r.Route("/pages", func(r chi.Router) {
				r.Post("/", adminHandler.CreatePage)
				r.Patch("/{id}", adminHandler.UpdatePage)
				r.Post("/{id}/move", adminHandler.MovePage)
				r.Delete("/{id}", adminHandler.DeletePage)
				r.Put("/{id}/contacts", adminHandler.SetPageContacts)
				r.Put("/{id}/members", adminHandler.SetGroupMembers)
			})

			r.Route("/contact-types", func(r chi.Router) {
				r.Get("/", adminHandler.ListContactTypes)
				r.Post("/", adminHandler.CreateContactType)
			})
			r.Route("/contacts", func(r chi.Router) {
				r.Get("/", adminHandler.ListContacts)
				r.Post("/", adminHandler.CreateContact)
				r.Put("/{id}", adminHandler.UpdateContact)
				r.Delete("/{id}", adminHandler.DeleteContact)
			})
			r.Route("/parties", func(r chi.Router) {
				r.Get("/", adminHandler.ListParties)
				r.Post("/", adminHandler.CreateParty)
			})
			r.Route("/images", func(r chi.Router) {
				r.Get("/", adminHandler.ListImages)
				r.Post("/", adminHandler.UploadImage)
			})

			r.Get("/webhooks", adminHandler.ListWebhooks)

			r.Route("/webpush", func(r chi.Router) {
				r.Get("/subscriptions", adminHandler.ListSubscriptions)
				r.Get("/notifications", adminHandler.ListNotifications)
				r.Post("/notifications", adminHandler.CreateNotification)
				r.Post("/notifications/{id}/send", adminHandler.SendNotification)
				r.Get("/notifications/{id}/results", adminHandler.ListNotificationResults)
			})
		})
	})

	return r
}

func countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, strconv.Itoa(ww.Status())).Inc()
	})
}
