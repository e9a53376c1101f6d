package router

import (
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"

	"github.com/invigilo/invigilo-backend/internal/config"
	"github.com/invigilo/invigilo-backend/internal/handler"
	"github.com/invigilo/invigilo-backend/internal/middleware"
	"github.com/invigilo/invigilo-backend/internal/response"
	"github.com/invigilo/invigilo-backend/internal/service"
)

// Handlers groups all handler instances for route setup.
type Handlers struct {
	Auth          *handler.AuthHandler
	StudentPortal *handler.StudentPortalHandler
	Exam          *handler.ExamHandler
	Grading       *handler.GradingHandler
	Monitor       *handler.MonitorHandler
	WS            *handler.WSHandler
	System        *handler.SystemHandler
}

// SetupRouter configures all Gin route groups with appropriate middlewares.
func SetupRouter(
	authService *service.AuthService,
	handlers *Handlers,
	cfg *config.Config,
) *gin.Engine {
	gin.SetMode(cfg.GinMode)
	router := gin.Default()

	// If AllowedOrigins is set in config, restrict to that list;
	// otherwise allow all so dev works without extra config.
	corsConfig := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) > 0 {
		corsConfig.AllowOrigins = cfg.AllowedOrigins
	} else {
		corsConfig.AllowAllOrigins = true
	}
	corsConfig.AllowMethods = []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"}
	corsConfig.AllowHeaders = []string{"Origin", "Content-Type", "Authorization", "X-Request-ID"}
	corsConfig.ExposeHeaders = []string{"X-Request-ID"}
	corsConfig.MaxAge = 12 * time.Hour
	router.Use(cors.New(corsConfig))

	// Every response carries a request ID for log correlation.
	router.Use(response.RequestIDMiddleware())

	// Warning snapshots are immutable once written, cache hard. Teachers
	// view them from the submission detail page.
	captures := router.Group("/captures")
	captures.Use(
		middleware.RequireTeacherJWT(authService),
		middleware.CacheControl(31536000),
	)
	{
		captures.Static("/", cfg.CaptureDir)
	}

	// Health check.
	router.GET("/health", func(c *gin.Context) {
		response.Success(c, http.StatusOK, gin.H{"status": "ok"})
	})

	// Rate limiter for auth routes (30 requests per minute per IP).
	authLimiter := middleware.NewRateLimiter(30, time.Minute)

	auth := router.Group("/api/v1/auth")
	auth.Use(authLimiter.Middleware())
	{
		auth.POST("/student/login", handlers.Auth.StudentLogin)
		auth.POST("/teacher/login", handlers.Auth.TeacherLogin)

		// Authenticated profile routes
		auth.POST("/student/logout", middleware.RequireStudentJWT(authService), handlers.Auth.StudentLogout)
		auth.GET("/student/me", middleware.RequireStudentJWT(authService), handlers.Auth.GetStudentProfile)
		auth.GET("/teacher/me", middleware.RequireTeacherJWT(authService), handlers.Auth.GetTeacherProfile)
	}

	studentAPI := router.Group("/api/v1/student")
	studentAPI.Use(
		middleware.RequireStudentJWT(authService),
		middleware.CheckSingleDeviceSession(authService),
	)
	{
		studentAPI.GET("/lobby", handlers.StudentPortal.GetLobby)
		studentAPI.GET("/exams/:exam_id/paper", handlers.StudentPortal.GetPaper)
		studentAPI.GET("/exams/:exam_id/session", handlers.StudentPortal.GetSessionState)
	}

	ws := router.Group("/ws/v1")
	{
		wsStudent := ws.Group("/student")
		wsStudent.Use(middleware.RequireStudentWSAuth(authService))
		wsStudent.GET("/exams/:exam_id/session", handlers.WS.SessionStream)

		// EventSource cannot set headers, so the proctor stream
		// authenticates like the WebSocket routes do.
		wsTeacher := ws.Group("/teacher")
		wsTeacher.Use(middleware.RequireTeacherWSAuth(authService))
		wsTeacher.GET("/exams/:exam_id/monitor", handlers.Monitor.MonitorExamSSE)
	}

	teacherAPI := router.Group("/api/v1/teacher")
	teacherAPI.Use(middleware.RequireTeacherJWT(authService))
	{
		teacherAPI.GET("/exams", handlers.Exam.ListExams)
		teacherAPI.POST("/exams", handlers.Exam.CreateExam)
		teacherAPI.GET("/exams/:exam_id", handlers.Exam.GetExam)
		teacherAPI.POST("/exams/:exam_id/schedule", handlers.Exam.ScheduleExam)

		teacherAPI.GET("/exams/:exam_id/results", handlers.Grading.ListResults)
		teacherAPI.GET("/submissions/:submission_id", handlers.Grading.GetSubmission)
		teacherAPI.PUT("/submissions/:submission_id/evaluation", handlers.Grading.EvaluateSubmission)

		teacherAPI.GET("/exams/:exam_id/progress", handlers.Monitor.GetProgress)

		teacherAPI.GET("/system/health", handlers.System.Health)
	}

	return router
}
