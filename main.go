package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"lab-registry/config"
	"lab-registry/models"
	"lab-registry/services"
	"lab-registry/storage"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

var (
	importedEntitiesCounter prometheus.Counter
	exportedArchivesCounter prometheus.Counter
)

func init() {
	importedEntitiesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "imported_entities_total",
			Help: "Total number of new entities created by snapshot imports.",
		},
	)
	exportedArchivesCounter = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "exported_archives_total",
			Help: "Total number of snapshot archives exported.",
		},
	)
	prometheus.MustRegister(importedEntitiesCounter, exportedArchivesCounter)
}

func apiKeyAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.APISecretKey == "" {
			c.Next()
			return
		}
		apiKey := c.GetHeader("X-API-KEY")
		if apiKey != cfg.APISecretKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized: Invalid API Key"})
			return
		}
		c.Next()
	}
}

func main() {
	logging, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("can't initialize zap logger: %v", err)
	}
	defer logging.Sync()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatal("Config load error", zap.Error(err))
	}

	db, err := gorm.Open(postgres.Open(cfg.DSN()), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		logging.Fatal("Failed to connect to database", zap.Error(err))
	}
	logging.Info("Successfully connected to registry database.")

	logging.Info("Running database auto-migration...")
	db.AutoMigrate(
		&models.Organization{}, &models.Person{}, &models.Membership{},
		&models.Journal{}, &models.JournalQualityIndicators{},
		&models.Publication{}, &models.Authorship{},
	)

	// Setup Services
	repo := storage.NewRepository(db)
	exportService := services.NewExportService(repo, logging)
	importService := services.NewImportService(repo, logging)
	archiveService := services.NewArchiveService(cfg, exportService, importService, logging)
	duplicateService := services.NewDuplicateService(repo, logging,
		cfg.DuplicateConfidentThreshold, cfg.DuplicatePossibleThreshold)
	mergeService := services.NewMergeService(repo, logging)
	authorshipService := services.NewAuthorshipService(repo, logging)

	// Setup Router
	router := gin.Default()
	router.Use(gin.Recovery())
	router.Use(apiKeyAuthMiddleware(cfg))
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// Setup Routes
	setupOrganizationRoutes(router, db, logging)
	setupPersonRoutes(router, db, duplicateService, mergeService, logging)
	setupMembershipRoutes(router, db, logging)
	setupJournalRoutes(router, db, logging)
	setupPublicationRoutes(router, db, authorshipService, logging)
	setupTransferRoutes(router, exportService, importService, archiveService, logging)

	// Setup Cron: nightly snapshot archive backup to S3.
	if cfg.BackupEnabled() {
		s3Client, err := storage.NewS3Client(cfg)
		if err != nil {
			logging.Fatal("S3 client creation failed", zap.Error(err))
		}
		cronScheduler := cron.New()
		cronScheduler.AddFunc(cfg.BackupCronSchedule, func() {
			logging.Info("Running scheduled snapshot backup...")
			if err := runArchiveBackup(context.Background(), archiveService, s3Client, cfg, logging); err != nil {
				logging.Error("Scheduled backup failed", zap.Error(err))
			}
		})
		cronScheduler.Start()
	} else {
		logging.Warn("S3 backup not configured, scheduled backups disabled.")
	}

	logging.Info("Starting server", zap.String("port", cfg.HTTPPort))
	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadTimeout:       30 * time.Second,
		ReadHeaderTimeout: 15 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	if err := srv.ListenAndServe(); err != nil {
		logging.Fatal("Failed to run server", zap.Error(err))
	}
}

// runArchiveBackup exports the snapshot archive into memory and uploads it to
// the backup bucket.
func runArchiveBackup(ctx context.Context, archive *services.ArchiveService, s3Client *s3.Client, cfg *config.Config, log *zap.Logger) error {
	var buf bytes.Buffer
	wrote, err := archive.Export(ctx, &buf, nil)
	if err != nil {
		return fmt.Errorf("archive export: %w", err)
	}
	if !wrote {
		log.Info("Registry is empty, skipping backup upload.")
		return nil
	}
	key := fmt.Sprintf("registry-%s.zip", time.Now().UTC().Format("2006-01-02T15-04-05"))
	link, err := storage.UploadFile(s3Client, cfg.BackupS3Bucket, key, buf.Bytes(), cfg)
	if err != nil {
		return fmt.Errorf("backup upload: %w", err)
	}
	log.Info("Snapshot backup uploaded", zap.String("link", link), zap.Int("bytes", buf.Len()))
	return nil
}

func setupOrganizationRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/organizations")

	rg.GET("/", func(c *gin.Context) {
		var orgs []models.Organization
		if err := db.Order("id").Find(&orgs).Error; err != nil {
			log.Error("Database query for organizations failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, orgs)
	})

	rg.POST("/", func(c *gin.Context) {
		var org models.Organization
		if err := c.ShouldBindJSON(&org); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&org).Error; err != nil {
			log.Error("Failed to create organization", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create organization"})
			return
		}
		c.JSON(http.StatusCreated, org)
	})

	rg.GET("/:id", func(c *gin.Context) {
		var org models.Organization
		if err := db.Preload("SubOrganizations").First(&org, c.Param("id")).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, org)
	})
}

func setupPersonRoutes(router *gin.Engine, db *gorm.DB, duplicates *services.DuplicateService, merge *services.MergeService, log *zap.Logger) {
	rg := router.Group("/persons")

	rg.GET("/", func(c *gin.Context) {
		var persons []models.Person
		if err := db.Order("id").Find(&persons).Error; err != nil {
			log.Error("Database query for persons failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, persons)
	})

	rg.POST("/", func(c *gin.Context) {
		var person models.Person
		if err := c.ShouldBindJSON(&person); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&person).Error; err != nil {
			log.Error("Failed to create person", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create person"})
			return
		}
		c.JSON(http.StatusCreated, person)
	})

	// Duplicate candidate groups for manual merge review; nothing is merged
	// automatically.
	rg.GET("/duplicates", func(c *gin.Context) {
		groups, err := duplicates.FindPersonDuplicates(c.Request.Context())
		if err != nil {
			log.Error("Duplicate scan failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "duplicate scan failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"groups": groups, "count": len(groups)})
	})

	rg.POST("/merge", func(c *gin.Context) {
		var req struct {
			TargetID  uint   `json:"target_id" binding:"required"`
			SourceIDs []uint `json:"source_ids" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "target_id and source_ids are required"})
			return
		}
		if err := merge.MergePersons(c.Request.Context(), req.TargetID, req.SourceIDs); err != nil {
			if errors.Is(err, services.ErrPersonNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
				return
			}
			log.Error("Person merge failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "merge failed, nothing was changed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "persons merged", "target_id": req.TargetID, "merged": len(req.SourceIDs)})
	})
}

func setupMembershipRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/memberships")

	rg.GET("/", func(c *gin.Context) {
		var memberships []models.Membership
		query := db.Order("id")
		if personID := c.Query("person_id"); personID != "" {
			query = query.Where("person_id = ?", personID)
		}
		if err := query.Find(&memberships).Error; err != nil {
			log.Error("Database query for memberships failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		// "active" is derived from the date window on every query, never stored.
		if active := c.Query("active"); active != "" {
			want, err := strconv.ParseBool(active)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid active filter"})
				return
			}
			filtered := memberships[:0]
			for _, m := range memberships {
				if m.Active() == want {
					filtered = append(filtered, m)
				}
			}
			memberships = filtered
		}
		c.JSON(http.StatusOK, memberships)
	})

	rg.POST("/", func(c *gin.Context) {
		var membership models.Membership
		if err := c.ShouldBindJSON(&membership); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&membership).Error; err != nil {
			log.Error("Failed to create membership", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create membership"})
			return
		}
		c.JSON(http.StatusCreated, membership)
	})
}

func setupJournalRoutes(router *gin.Engine, db *gorm.DB, log *zap.Logger) {
	rg := router.Group("/journals")

	rg.GET("/", func(c *gin.Context) {
		var journals []models.Journal
		if err := db.Preload("QualityIndicators").Order("id").Find(&journals).Error; err != nil {
			log.Error("Database query for journals failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, journals)
	})

	rg.POST("/", func(c *gin.Context) {
		var journal models.Journal
		if err := c.ShouldBindJSON(&journal); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&journal).Error; err != nil {
			log.Error("Failed to create journal", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create journal"})
			return
		}
		c.JSON(http.StatusCreated, journal)
	})
}

func setupPublicationRoutes(router *gin.Engine, db *gorm.DB, authorships *services.AuthorshipService, log *zap.Logger) {
	rg := router.Group("/publications")

	rg.GET("/", func(c *gin.Context) {
		var publications []models.Publication
		query := db.Preload("Authorships").Order("id")
		if year := c.Query("year"); year != "" {
			query = query.Where("year = ?", year)
		}
		if err := query.Find(&publications).Error; err != nil {
			log.Error("Database query for publications failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "database error"})
			return
		}
		c.JSON(http.StatusOK, publications)
	})

	rg.POST("/", func(c *gin.Context) {
		var publication models.Publication
		if err := c.ShouldBindJSON(&publication); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
			return
		}
		if err := db.Create(&publication).Error; err != nil {
			log.Error("Failed to create publication", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create publication"})
			return
		}
		c.JSON(http.StatusCreated, publication)
	})

	rg.POST("/:id/authors", func(c *gin.Context) {
		publicationID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid publication id"})
			return
		}
		var req struct {
			PersonID uint `json:"person_id" binding:"required"`
			Position int  `json:"position"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "person_id is required"})
			return
		}
		if err := authorships.AddAuthor(c.Request.Context(), uint(publicationID), req.PersonID, req.Position); err != nil {
			log.Error("Failed to add author", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "author added"})
	})

	rg.DELETE("/:id/authors/:personId", func(c *gin.Context) {
		publicationID, err := strconv.ParseUint(c.Param("id"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid publication id"})
			return
		}
		personID, err := strconv.ParseUint(c.Param("personId"), 10, 32)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person id"})
			return
		}
		if err := authorships.RemoveAuthor(c.Request.Context(), uint(publicationID), uint(personID)); err != nil {
			log.Error("Failed to remove author", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"message": "author removed"})
	})
}

// setupTransferRoutes configures snapshot export/import, as JSON or as a zip
// archive bundling the attachments.
func setupTransferRoutes(router *gin.Engine, exporter *services.ExportService, importer *services.ImportService, archive *services.ArchiveService, log *zap.Logger) {
	rg := router.Group("/transfer")

	rg.GET("/export/json", func(c *gin.Context) {
		doc, err := exporter.Export(c.Request.Context())
		if err != nil {
			log.Error("Snapshot export failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "export failed"})
			return
		}
		// No export content is distinct from an empty document.
		if doc == nil {
			c.Status(http.StatusNoContent)
			return
		}
		c.JSON(http.StatusOK, doc)
	})

	rg.GET("/export/archive", func(c *gin.Context) {
		c.Header("Content-Type", "application/zip")
		c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=registry-%s.zip", time.Now().UTC().Format("2006-01-02")))
		wrote, err := archive.Export(c.Request.Context(), c.Writer, func(p services.ArchiveProgress) {
			log.Debug("Archive export progress", zap.Int("items", p.Items), zap.Int64("bytes", p.Bytes))
		})
		if err != nil {
			log.Error("Archive export failed", zap.Error(err))
			c.Status(http.StatusInternalServerError)
			return
		}
		if !wrote {
			c.Status(http.StatusNoContent)
			return
		}
		exportedArchivesCounter.Inc()
	})

	rg.POST("/import/json", func(c *gin.Context) {
		data, err := c.GetRawData()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot read body"})
			return
		}
		doc, err := services.ParseDocument(data)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "malformed snapshot document"})
			return
		}
		report, err := importer.Import(c.Request.Context(), doc)
		if err != nil {
			log.Error("Snapshot import failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed"})
			return
		}
		importedEntitiesCounter.Add(float64(report.TotalNew()))
		c.JSON(http.StatusOK, report)
	})

	rg.POST("/import/archive", func(c *gin.Context) {
		fileHeader, err := c.FormFile("archive")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "archive file is required"})
			return
		}
		file, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot open archive"})
			return
		}
		defer file.Close()

		report, err := archive.Import(c.Request.Context(), file, fileHeader.Size)
		if err != nil {
			if errors.Is(err, services.ErrMalformedDocument) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "malformed archive"})
				return
			}
			log.Error("Archive import failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "import failed"})
			return
		}
		importedEntitiesCounter.Add(float64(report.TotalNew()))
		c.JSON(http.StatusOK, report)
	})
}
