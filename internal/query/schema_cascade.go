package query

import (
	"context"
	"fmt"

	"regbroker/internal/apperror"
	"regbroker/internal/domain"
	"regbroker/internal/logger"
)

// GetModuleSchema runs the four-tier cascade of spec §4.7: the metadata
// repository (C5), then the schema archive (C6), then a live module
// callback (C4), failing with NotFound only once every tier has missed.
// An archive failure along the way is logged; neither an archive nor a
// callback failure surfaces directly — only the cascade's final NotFound is
// returned, carrying the callback tier's error in its chain via apperror.Wrap.
func (s *Service) GetModuleSchema(ctx context.Context, moduleName, version string) (ModuleSchemaResult, error) {
	if result, ok := s.schemaFromRepository(ctx, moduleName, version); ok {
		return result, nil
	}

	if result, ok := s.schemaFromArchive(ctx, moduleName, version); ok {
		return result, nil
	}

	result, err := s.schemaFromCallback(ctx, moduleName)
	if err == nil {
		return result, nil
	}

	return ModuleSchemaResult{}, apperror.Wrap(err, apperror.CodeNotFound,
		fmt.Sprintf("Module schema not found: %s. Module may not be running or registered.", moduleName))
}

// GetModuleSchemaVersions lists every version known for moduleName, merging
// the metadata repository's rows with the archive's artifact history and
// deduplicating. Neither tier's failure is fatal; only both missing is.
func (s *Service) GetModuleSchemaVersions(ctx context.Context, moduleName string) ([]string, error) {
	seen := make(map[string]bool)
	var versions []string

	if fromRepo, err := s.metadata.ListSchemaVersionsByName(ctx, moduleName); err != nil {
		logger.Warn("schema version listing: metadata repository lookup failed", "module_name", moduleName, "error", err)
	} else {
		for _, v := range fromRepo {
			if !seen[v] {
				seen[v] = true
				versions = append(versions, v)
			}
		}
	}

	if fromArchive, err := s.archive.ListVersions(ctx, moduleName); err != nil {
		logger.Warn("schema version listing: archive lookup failed", "module_name", moduleName, "error", err)
	} else {
		for _, v := range fromArchive {
			if !seen[v] {
				seen[v] = true
				versions = append(versions, v)
			}
		}
	}

	if len(versions) == 0 {
		return nil, apperror.New(apperror.CodeNotFound,
			fmt.Sprintf("No schema versions found for module: %s", moduleName))
	}
	return versions, nil
}

func (s *Service) schemaFromRepository(ctx context.Context, moduleName, version string) (ModuleSchemaResult, bool) {
	var row domain.ConfigSchemaRow
	var err error
	if version != "" {
		row, err = s.metadata.FindSchemaByID(ctx, domain.SchemaID(moduleName, version))
	} else {
		row, err = s.metadata.FindLatestSchemaByName(ctx, moduleName)
	}
	if err != nil {
		return ModuleSchemaResult{}, false
	}
	return ModuleSchemaResult{
		JSONSchema: row.JSONSchema,
		Source:     "metadata_repository",
		CreatedBy:  row.CreatedBy,
		SyncStatus: row.SyncStatus,
	}, true
}

func (s *Service) schemaFromArchive(ctx context.Context, moduleName, version string) (ModuleSchemaResult, bool) {
	v := version
	if v == "" {
		v = "latest"
	}

	content, err := s.archive.GetSchemaByName(ctx, moduleName, v)
	if err != nil {
		logger.Warn("schema cascade: archive lookup missed", "module_name", moduleName, "error", err)
		return ModuleSchemaResult{}, false
	}

	result := ModuleSchemaResult{JSONSchema: content, Source: "schema_archive"}
	if meta, found, err := s.archive.GetArtifactMetadata(ctx, moduleName); err != nil {
		logger.Warn("schema cascade: artifact metadata lookup failed, returning content alone", "module_name", moduleName, "error", err)
	} else if found {
		result.ArtifactID = meta.ArtifactID
		result.ArtifactGlobalID = meta.GlobalID
		result.ArtifactCreatedOn = meta.CreatedOn
	}
	return result, true
}

func (s *Service) schemaFromCallback(ctx context.Context, moduleName string) (ModuleSchemaResult, error) {
	meta, err := s.callback.FetchModuleMetadata(ctx, moduleName)
	if err != nil {
		return ModuleSchemaResult{}, err
	}

	jsonSchema := meta.JSONConfigSchema
	if jsonSchema == "" {
		jsonSchema = domain.SynthesizeDefaultConfigSchema(moduleName)
	}
	return ModuleSchemaResult{JSONSchema: jsonSchema, Source: "module_callback"}, nil
}
