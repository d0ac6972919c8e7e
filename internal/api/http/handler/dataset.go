package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stadtnetz/lorabulk/internal/api/http/dto"
	"github.com/stadtnetz/lorabulk/internal/dataset"
)

const (
	maxUploadSize = 20 * 1024 * 1024
	previewRows   = 5
)

type DatasetHandler struct {
	jobs *JobManager
}

func NewDatasetHandler(jobs *JobManager) *DatasetHandler {
	return &DatasetHandler{jobs: jobs}
}

// Upload parses a device list file and keeps it in memory for a later run.
func (h *DatasetHandler) Upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxUploadSize)

	file, header, err := c.Request.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file is required"})
		return
	}
	defer file.Close()

	data, err := dataset.ParseFile(header.Filename, file)
	if err != nil {
		if errors.Is(err, dataset.ErrUnsupportedFormat) {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		slog.Error("Failed to parse upload", "filename", header.Filename, "error", err)
		c.JSON(http.StatusBadRequest, gin.H{"error": "could not parse file: " + err.Error()})
		return
	}

	id := h.jobs.AddUpload(data)
	slog.Info("Upload parsed", "upload_id", id, "filename", header.Filename, "tables", len(data.Tables))

	c.JSON(http.StatusOK, dto.UploadResponse{
		UploadID: id,
		Filename: data.Filename,
		Tables:   tableInfos(data),
	})
}

// SuggestMapping returns a column mapping guessed from a table's header.
func (h *DatasetHandler) SuggestMapping(c *gin.Context) {
	data, err := h.jobs.GetUpload(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	tbl := pickTable(data, c.Query("table"))
	if tbl == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "table not found"})
		return
	}

	m := dataset.SuggestMapping(tbl.Columns)
	c.JSON(http.StatusOK, dto.SuggestMappingResponse{
		Mapping:  toMappingDTO(m),
		Warnings: m.Validate(tbl.Columns),
	})
}

func pickTable(data *dataset.Dataset, name string) *dataset.Table {
	if name == "" {
		if len(data.Tables) == 0 {
			return nil
		}
		return &data.Tables[0]
	}
	return data.Table(name)
}

func tableInfos(data *dataset.Dataset) []dto.TableInfo {
	infos := make([]dto.TableInfo, 0, len(data.Tables))
	for _, tbl := range data.Tables {
		preview := tbl.Rows
		if len(preview) > previewRows {
			preview = preview[:previewRows]
		}
		infos = append(infos, dto.TableInfo{
			Name:    tbl.Name,
			Columns: tbl.Columns,
			Rows:    len(tbl.Rows),
			Preview: preview,
		})
	}
	return infos
}

func toMappingDTO(m dataset.Mapping) dto.MappingDTO {
	return dto.MappingDTO{
		DevEUI:          m.DevEUI,
		Name:            m.Name,
		ApplicationID:   m.ApplicationID,
		DeviceProfileID: m.DeviceProfileID,
		Description:     m.Description,
		AppKey:          m.AppKey,
		NwkKey:          m.NwkKey,
	}
}

func fromMappingDTO(m dto.MappingDTO) dataset.Mapping {
	return dataset.Mapping{
		DevEUI:          m.DevEUI,
		Name:            m.Name,
		ApplicationID:   m.ApplicationID,
		DeviceProfileID: m.DeviceProfileID,
		Description:     m.Description,
		AppKey:          m.AppKey,
		NwkKey:          m.NwkKey,
	}
}
