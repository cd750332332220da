package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"github.com/nfnt/resize"
	"github.com/redis/go-redis/v9"

	"afriverse/core/internal/config"
	"afriverse/core/internal/email"
	"afriverse/core/internal/modelgen"
	"afriverse/core/internal/services"
	"afriverse/core/internal/storage"
	"afriverse/core/internal/utils"
)

// Task types dispatched through asynq.
const (
	TypeEmailDelivery = "email:deliver"
	TypeImageProcess  = "image:process"
	TypeModelGenerate = "model:generate"
	TypeModelPoll     = "model:poll"
)

// --- Task Client (Enqueuing tasks) ---

func NewClient(rdb *redis.Client) *asynq.Client {
	clientOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}
	return asynq.NewClient(clientOpt)
}

// --- Task Server (Processing tasks) ---

// TaskProcessor handles the processing of tasks.
// It holds dependencies needed by task handlers.
type TaskProcessor struct {
	cfg             *config.Config
	emailSender     email.Sender
	storageService  storage.IS3Storage
	listingService  services.IListingService
	templateService services.IEmailTemplateService
	modelGenerator  modelgen.IModelGenerator
	taskClient      *asynq.Client
}

func NewTaskProcessor(
	cfg *config.Config,
	emailSender email.Sender,
	storageService storage.IS3Storage,
	listingService services.IListingService,
	templateService services.IEmailTemplateService,
	modelGenerator modelgen.IModelGenerator,
	taskClient *asynq.Client,
) *TaskProcessor {
	return &TaskProcessor{
		cfg:             cfg,
		emailSender:     emailSender,
		storageService:  storageService,
		listingService:  listingService,
		templateService: templateService,
		modelGenerator:  modelGenerator,
		taskClient:      taskClient,
	}
}

// SetupServer configures and starts an Asynq server instance. Returns the
// running server so the caller can Shutdown it; nil in pure API mode.
func SetupServer(rdb *redis.Client, processor *TaskProcessor, isImageWorker bool, isBgWorker bool) *asynq.Server {
	serverOpt := asynq.RedisClientOpt{
		Addr:     rdb.Options().Addr,
		Password: rdb.Options().Password,
		DB:       rdb.Options().DB,
	}

	srv := asynq.NewServer(
		serverOpt,
		asynq.Config{
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
				"images":   5, // separate queue for image and model work
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				log.Printf("[Asynq Error] Task Type: %s, Payload: %s, Error: %v", task.Type(), string(task.Payload()), err)
			}),
		},
	)

	mux := asynq.NewServeMux()

	if isBgWorker {
		mux.HandleFunc(TypeEmailDelivery, processor.HandleEmailDeliveryTask)
		log.Println("Registered background task handlers (email).")
	}

	if isImageWorker {
		mux.HandleFunc(TypeImageProcess, processor.HandleImageProcessTask)
		mux.HandleFunc(TypeModelGenerate, processor.HandleModelGenerateTask)
		mux.HandleFunc(TypeModelPoll, processor.HandleModelPollTask)
		log.Println("Registered image and model generation task handlers.")
	}

	if !isBgWorker && !isImageWorker {
		log.Println("Running in API mode, no task server started.")
		return nil
	}

	if err := srv.Start(mux); err != nil {
		log.Fatalf("Could not start Asynq server: %v", err)
	}

	return srv
}

// --- Task Handlers ---

// EmailTaskPayload is the payload for TypeEmailDelivery.
type EmailTaskPayload struct {
	To         string                 `json:"to"`
	TemplateID string                 `json:"template_id"`
	Locale     string                 `json:"locale,omitempty"`
	Data       map[string]interface{} `json:"data"`
}

// HandleEmailDeliveryTask renders the template and hands the message to the
// configured sender.
func (p *TaskProcessor) HandleEmailDeliveryTask(ctx context.Context, t *asynq.Task) error {
	var payload EmailTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal email task payload: %v: %w", err, asynq.SkipRetry)
	}

	log.Printf("Sending email task: To=%s, Template=%s", payload.To, payload.TemplateID)

	locale := payload.Locale
	if locale == "" {
		locale = "en-US"
	}

	rendered, err := p.templateService.Render(ctx, payload.TemplateID, locale, payload.Data)
	if err != nil {
		log.Printf("Error rendering email template %s/%s: %v", payload.TemplateID, locale, err)
		// A missing or broken template won't fix itself on retry.
		return fmt.Errorf("email template render failed: %w", asynq.SkipRetry)
	}

	fromAddress := p.cfg.SmtpFromAddress
	if fromAddress == "" {
		fromAddress = "noreply@example.com"
		log.Printf("Warning: SmtpFromAddress not configured, using fallback %s for email to %s", fromAddress, payload.To)
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("To: %s\r\n", payload.To))
	sb.WriteString(fmt.Sprintf("From: %s\r\n", fromAddress))
	sb.WriteString(fmt.Sprintf("Subject: %s\r\n", rendered.Subject))
	sb.WriteString("Date: " + time.Now().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: text/html; charset=\"UTF-8\"\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(rendered.HTML)
	sb.WriteString("\r\n")

	rawMessage := []byte(sb.String())

	err = p.emailSender.Send(ctx, []string{payload.To}, rendered.Subject, rawMessage)
	if err != nil {
		log.Printf("Email sending failed (will retry): %v", err)
		return err
	}

	log.Printf("Email task processed successfully: To=%s, Template=%s", payload.To, payload.TemplateID)
	return nil
}

// ImageTaskPayload is the payload for TypeImageProcess.
type ImageTaskPayload struct {
	S3Key     string `json:"s3_key"`
	ListingID string `json:"listing_id"`
}

// HandleImageProcessTask normalizes a freshly uploaded listing photo: size
// cap, dimension cap with resize, then attaches the key to the listing.
func (p *TaskProcessor) HandleImageProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload ImageTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal image task payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := utils.ParseShortID(payload.ListingID)
	if err != nil {
		log.Printf("Invalid ListingID in image task payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Processing image task: S3Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)

	s3Client := p.storageService.Client()
	getObjectOutput, err := s3Client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.cfg.ListingImagesBucket),
		Key:    aws.String(payload.S3Key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			log.Printf("S3 object %s not found, likely upload failed or key incorrect.", payload.S3Key)
			return fmt.Errorf("s3 object not found: %w", asynq.SkipRetry)
		}
		return fmt.Errorf("failed to download image from S3: %w", err)
	}
	defer getObjectOutput.Body.Close()

	imgData, err := io.ReadAll(getObjectOutput.Body)
	if err != nil {
		log.Printf("Error reading image object body for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("failed to read image data: %w", err)
	}

	// Check size before decoding
	maxSizeBytes := int64(p.cfg.ImageMaxSizeMB) * 1024 * 1024
	if int64(len(imgData)) > maxSizeBytes {
		log.Printf("Image %s exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(imgData), maxSizeBytes)
		return fmt.Errorf("image exceeds max size: %w", asynq.SkipRetry)
	}

	img, format, err := image.Decode(bytes.NewReader(imgData))
	if err != nil {
		log.Printf("Error decoding image for key %s: %v", payload.S3Key, err)
		return fmt.Errorf("unsupported image format or corrupt image: %w", asynq.SkipRetry)
	}
	log.Printf("Decoded image %s, format: %s, size: %dx%d", payload.S3Key, format, img.Bounds().Dx(), img.Bounds().Dy())

	maxWidth := uint(p.cfg.ImageMaxDimension)
	maxHeight := uint(p.cfg.ImageMaxDimension)
	needsResize := uint(img.Bounds().Dx()) > maxWidth || uint(img.Bounds().Dy()) > maxHeight

	processedImageData := imgData
	contentType := "image/" + format
	if getObjectOutput.ContentType != nil {
		contentType = *getObjectOutput.ContentType
	}

	if needsResize {
		log.Printf("Resizing image %s (original: %dx%d, max: %dx%d)", payload.S3Key, img.Bounds().Dx(), img.Bounds().Dy(), maxWidth, maxHeight)
		resizedImg := resize.Thumbnail(maxWidth, maxHeight, img, resize.Lanczos3)
		var buf bytes.Buffer
		err = jpeg.Encode(&buf, resizedImg, &jpeg.Options{Quality: 85})
		if err != nil {
			log.Printf("Error encoding resized image %s: %v", payload.S3Key, err)
			return fmt.Errorf("failed to re-encode resized image: %w", err)
		}
		processedImageData = buf.Bytes()
		contentType = "image/jpeg"
		log.Printf("Resized image %s to %dx%d", payload.S3Key, resizedImg.Bounds().Dx(), resizedImg.Bounds().Dy())

		if int64(len(processedImageData)) > maxSizeBytes {
			log.Printf("Resized image %s still exceeds max size (%d > %d bytes). Skipping.", payload.S3Key, len(processedImageData), maxSizeBytes)
			return fmt.Errorf("resized image still exceeds max size: %w", asynq.SkipRetry)
		}
	}

	// Overwrite the original with the processed version
	_, err = s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(p.cfg.ListingImagesBucket),
		Key:         aws.String(payload.S3Key),
		Body:        bytes.NewReader(processedImageData),
		ContentType: aws.String(contentType),
	})
	if err != nil {
		log.Printf("Error uploading processed image %s to S3: %v", payload.S3Key, err)
		return fmt.Errorf("failed to upload processed image: %w", err)
	}

	err = p.listingService.AddImageToListing(ctx, listingID, payload.S3Key)
	if err != nil {
		log.Printf("Error adding image key %s to listing %s: %v", payload.S3Key, payload.ListingID, err)
		return fmt.Errorf("failed to update listing with processed image: %w", err)
	}

	log.Printf("Image task processed successfully: Key=%s, ListingID=%s", payload.S3Key, payload.ListingID)
	return nil
}

// ModelGenerateTaskPayload is the payload for TypeModelGenerate.
type ModelGenerateTaskPayload struct {
	ListingID string `json:"listing_id"`
	ImageURL  string `json:"image_url"`
}

// ModelPollTaskPayload is the payload for TypeModelPoll.
type ModelPollTaskPayload struct {
	ListingID   string `json:"listing_id"`
	GenTaskID   string `json:"gen_task_id"`
	PollAttempt int    `json:"poll_attempt"`
}

// HandleModelGenerateTask submits a listing photo to the image-to-3D provider
// and schedules the first poll.
func (p *TaskProcessor) HandleModelGenerateTask(ctx context.Context, t *asynq.Task) error {
	var payload ModelGenerateTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal model generate payload: %v: %w", err, asynq.SkipRetry)
	}

	if _, err := utils.ParseShortID(payload.ListingID); err != nil {
		log.Printf("Invalid ListingID in model generate payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	log.Printf("Submitting model generation for listing %s (image: %s)", payload.ListingID, payload.ImageURL)

	genTaskID, err := p.modelGenerator.SubmitImage(ctx, payload.ImageURL)
	if err != nil {
		log.Printf("Model generation submit failed for listing %s: %v", payload.ListingID, err)
		return err
	}

	pollPayload, _ := json.Marshal(ModelPollTaskPayload{
		ListingID:   payload.ListingID,
		GenTaskID:   genTaskID,
		PollAttempt: 1,
	})
	pollTask := asynq.NewTask(TypeModelPoll, pollPayload, asynq.Queue("images"))
	info, err := p.taskClient.EnqueueContext(ctx, pollTask, asynq.ProcessIn(p.cfg.MeshyPollInterval))
	if err != nil {
		log.Printf("ERROR failed to enqueue poll task for listing %s (gen task %s): %v", payload.ListingID, genTaskID, err)
		return err
	}

	log.Printf("Model generation %s submitted for listing %s; first poll task %s in %v.", genTaskID, payload.ListingID, info.ID, p.cfg.MeshyPollInterval)
	return nil
}

// HandleModelPollTask checks one generation task. On success it downloads the
// provider-hosted model (the URL expires) and re-hosts it in our bucket
// before opening up try-on on the listing. While pending, it re-enqueues
// itself up to MeshyMaxPolls attempts.
func (p *TaskProcessor) HandleModelPollTask(ctx context.Context, t *asynq.Task) error {
	var payload ModelPollTaskPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("failed to unmarshal model poll payload: %v: %w", err, asynq.SkipRetry)
	}

	listingID, err := utils.ParseShortID(payload.ListingID)
	if err != nil {
		log.Printf("Invalid ListingID in model poll payload: %s", payload.ListingID)
		return fmt.Errorf("invalid listing ID in payload: %w", asynq.SkipRetry)
	}

	result, err := p.modelGenerator.CheckTask(ctx, payload.GenTaskID)
	if errors.Is(err, modelgen.ErrNotReady) {
		if payload.PollAttempt >= p.cfg.MeshyMaxPolls {
			log.Printf("Model generation %s for listing %s still pending after %d polls. Giving up.", payload.GenTaskID, payload.ListingID, payload.PollAttempt)
			return fmt.Errorf("model generation timed out: %w", asynq.SkipRetry)
		}

		nextPayload, _ := json.Marshal(ModelPollTaskPayload{
			ListingID:   payload.ListingID,
			GenTaskID:   payload.GenTaskID,
			PollAttempt: payload.PollAttempt + 1,
		})
		nextTask := asynq.NewTask(TypeModelPoll, nextPayload, asynq.Queue("images"))
		info, enqErr := p.taskClient.EnqueueContext(ctx, nextTask, asynq.ProcessIn(p.cfg.MeshyPollInterval))
		if enqErr != nil {
			log.Printf("ERROR failed to re-enqueue poll task for gen task %s: %v", payload.GenTaskID, enqErr)
			return enqErr
		}
		log.Printf("Model generation %s not ready (poll %d/%d). Re-enqueued task %s in %v.", payload.GenTaskID, payload.PollAttempt, p.cfg.MeshyMaxPolls, info.ID, p.cfg.MeshyPollInterval)
		return nil
	}
	if errors.Is(err, modelgen.ErrGenerationFailed) {
		log.Printf("Model generation %s failed permanently for listing %s: %v", payload.GenTaskID, payload.ListingID, err)
		return fmt.Errorf("model generation failed: %w", asynq.SkipRetry)
	}
	if err != nil {
		// Transient provider/network error, retry via asynq.
		return err
	}

	body, err := p.modelGenerator.FetchModel(ctx, result.ModelURL)
	if err != nil {
		log.Printf("Failed to download generated model for listing %s: %v", payload.ListingID, err)
		return err
	}
	defer body.Close()

	modelKey := fmt.Sprintf("%s/%s.glb", payload.ListingID, uuid.NewString())
	if err := p.storageService.Upload(ctx, storage.BucketModels, modelKey, body, "model/gltf-binary"); err != nil {
		log.Printf("Failed to re-host model for listing %s: %v", payload.ListingID, err)
		return err
	}

	if err := p.listingService.AttachModel3D(ctx, listingID, modelKey); err != nil {
		log.Printf("Model re-hosted as %s but listing %s update failed: %v", modelKey, payload.ListingID, err)
		return err
	}

	log.Printf("Model generation complete for listing %s: %s", payload.ListingID, modelKey)
	return nil
}
