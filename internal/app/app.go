// Package app wires the broker's dependencies and routes API Gateway
// requests to the handlers. A single App serves many invocations; the only
// cross-request state it may hold is the in-process rate-limit counters,
// which are explicitly best-effort.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/savesync-app/backend/internal/abuse"
	"github.com/savesync-app/backend/internal/config"
	"github.com/savesync-app/backend/internal/handler"
	"github.com/savesync-app/backend/internal/objstore"
	"github.com/savesync-app/backend/internal/password"
	"github.com/savesync-app/backend/internal/secret"
	"github.com/savesync-app/backend/internal/store"
	"github.com/savesync-app/backend/internal/token"
)

// App holds the dependencies for the Lambda function.
type App struct {
	auth    *handler.AuthHandler
	device  *handler.DeviceHandler
	save    *handler.SaveHandler
	gateway *abuse.GatewayChecker
	limiter *abuse.Limiter
	log     *slog.Logger

	bucketConfigured bool
}

// NewApp initializes the application dependencies.
func NewApp(ctx context.Context) *App {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("load config: %v", err))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}
	dynamoClient := dynamodb.NewFromConfig(awsCfg)

	// Secret material comes from SSM Parameter Store in production and
	// from environment variables in DEV_MODE.
	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		log.Info("using EnvResolver (DEV_MODE)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
	}

	sessionSecret := resolveOrDie(ctx, resolver, cfg.SessionSecretParam, cfg.DevMode, "dev-session-secret", log)
	uploadSecret := resolveOrDie(ctx, resolver, cfg.UploadSecretParam, cfg.DevMode, "dev-upload-secret", log)
	tokens := token.NewService(
		token.NewKeyring(sessionSecret, secret.Optional(ctx, resolver, cfg.SessionSecretRotatedParam)),
		token.NewKeyring(uploadSecret, secret.Optional(ctx, resolver, cfg.UploadSecretRotatedParam)),
	)

	hasher, strategy := password.New()
	log.Info("password hasher selected", "strategy", strategy)

	users := store.NewDynamoUserStore(dynamoClient, cfg.UsersTable, cfg.EmailIndexTable)
	devices := store.NewDynamoDeviceStore(dynamoClient, cfg.DevicesTable)
	saves := store.NewDynamoSaveStore(dynamoClient, cfg.SavesTable)
	downloads := store.NewDynamoDownloadLog(dynamoClient, cfg.DownloadsTable)

	broker := objstore.New(newS3Client(ctx, cfg), cfg.Bucket, cfg.PresignTTL)

	turnstile := abuse.NewTurnstileVerifier(
		cfg.TurnstileVerifyURL,
		secret.Optional(ctx, resolver, cfg.TurnstileSecretParam),
		log,
	)
	gateway := abuse.NewGatewayChecker(cfg.GatewayVerifyURL, cfg.GatewayAudience, log)

	var counters abuse.CounterStore
	if cfg.RateLimitTable != "" {
		counters = abuse.NewDynamoCounterStore(dynamoClient, cfg.RateLimitTable)
	} else {
		counters = abuse.NewMemoryCounterStore()
	}
	limiter := abuse.NewLimiter(counters, cfg.RateLimitMax, cfg.RateLimitWindow, log)

	return &App{
		auth:             handler.NewAuthHandler(users, devices, hasher, tokens, turnstile, log),
		device:           handler.NewDeviceHandler(devices, tokens, log),
		save:             handler.NewSaveHandler(saves, devices, downloads, broker, tokens, turnstile, log),
		gateway:          gateway,
		limiter:          limiter,
		log:              log,
		bucketConfigured: cfg.Bucket != "",
	}
}

// resolveOrDie fetches a required signing secret. Production refuses to
// start without it; DEV_MODE falls back to a fixed dev value.
func resolveOrDie(ctx context.Context, r secret.Resolver, name string, devMode bool, devFallback string, log *slog.Logger) string {
	val, err := r.GetSecret(ctx, name)
	if err != nil || val == "" {
		if !devMode {
			panic(fmt.Sprintf("resolve secret %s: %v", name, err))
		}
		log.Warn("secret unresolved, using dev fallback", "param", name)
		return devFallback
	}
	return val
}

// newS3Client builds the object-store client, honoring a custom endpoint
// and static credentials for S3-compatible backends (R2, MinIO).
func newS3Client(ctx context.Context, cfg *config.Config) *s3.Client {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
	}
	if cfg.S3AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		panic(fmt.Sprintf("unable to load S3 config, %v", err))
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.S3Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
		}
	})
}

// HandleRequest gates and routes one API Gateway request.
func (app *App) HandleRequest(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	method := req.HTTPMethod
	path := req.Path

	// CORS preflight
	if method == http.MethodOptions {
		return corsResponse(events.APIGatewayProxyResponse{StatusCode: http.StatusNoContent}), nil
	}

	// Abuse controls run before any parsing or auth.
	if !app.gateway.Check(ctx, handler.Header(req, abuse.AssertionHeader)) {
		return corsResponse(handler.RespondError(handler.CodeAccessDenied)), nil
	}
	if !app.limiter.Allow(ctx, path, handler.ClientIP(req)) {
		return corsResponse(handler.RespondError(handler.CodeRateLimited)), nil
	}

	switch method + " " + path {
	case "GET /health":
		return corsResponse(app.health()), nil
	case "POST /signup":
		return corsResponse(app.must(app.auth.Signup(ctx, req))), nil
	case "POST /login":
		return corsResponse(app.must(app.auth.Login(ctx, req))), nil
	case "POST /device/register":
		return corsResponse(app.must(app.device.Register(ctx, req))), nil
	case "GET /device/list":
		return corsResponse(app.must(app.device.List(ctx, req))), nil
	case "POST /device/remove":
		return corsResponse(app.must(app.device.Remove(ctx, req))), nil
	case "POST /save/upload-url":
		return corsResponse(app.must(app.save.UploadURL(ctx, req))), nil
	case "POST /save/notify-upload":
		return corsResponse(app.must(app.save.NotifyUpload(ctx, req))), nil
	case "POST /save/download-url":
		return corsResponse(app.must(app.save.DownloadURL(ctx, req))), nil
	case "POST /save/list":
		return corsResponse(app.must(app.save.List(ctx, req))), nil
	}

	return corsResponse(handler.RespondJSON(http.StatusNotFound,
		map[string]string{"error": "Not implemented"})), nil
}

func (app *App) health() events.APIGatewayProxyResponse {
	r2 := "ready"
	if !app.bucketConfigured {
		r2 = "unconfigured"
	}
	return handler.RespondJSON(http.StatusOK, map[string]any{"ok": true, "r2": r2})
}

// must unwraps a handler response. Handlers report failures in-band, so an
// error here is a bug and gets the generic 500.
func (app *App) must(resp events.APIGatewayProxyResponse, err error) events.APIGatewayProxyResponse {
	if err != nil {
		app.log.Error("handler error", "err", err)
		return handler.RespondError(handler.CodeInternal)
	}
	return resp
}

// corsResponse adds CORS headers for the desktop and mobile client shells.
func corsResponse(resp events.APIGatewayProxyResponse) events.APIGatewayProxyResponse {
	if resp.Headers == nil {
		resp.Headers = make(map[string]string)
	}
	origin := os.Getenv("CLIENT_ORIGIN")
	if origin == "" {
		origin = "*"
	}
	resp.Headers["Access-Control-Allow-Origin"] = origin
	resp.Headers["Access-Control-Allow-Methods"] = "GET,POST,OPTIONS"
	resp.Headers["Access-Control-Allow-Headers"] = "Content-Type,Authorization"
	return resp
}
