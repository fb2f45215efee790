package models

import (
	"testing"

	"imageviewer-pipeline/internal/mediatypes"
)

func TestCollectionTypeForArchive(t *testing.T) {
	tests := []struct {
		name   string
		format mediatypes.ArchiveFormat
		want   CollectionType
	}{
		{"zip", mediatypes.ArchiveZip, CollectionZip},
		{"sevenzip", mediatypes.ArchiveSevenZip, CollectionSevenZip},
		{"rar", mediatypes.ArchiveRar, CollectionRar},
		{"tar", mediatypes.ArchiveTar, CollectionTar},
		{"none falls back to directory", mediatypes.ArchiveNone, CollectionDirectory},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := CollectionTypeForArchive(tt.format)
			if got != tt.want {
				t.Errorf("CollectionTypeForArchive(%v) = %v, want %v", tt.format, got, tt.want)
			}
		})
	}
}

func TestCollectionTypeIsArchive(t *testing.T) {
	if CollectionDirectory.IsArchive() {
		t.Error("CollectionDirectory.IsArchive() = true, want false")
	}
	for _, ct := range []CollectionType{CollectionZip, CollectionSevenZip, CollectionRar, CollectionTar} {
		if !ct.IsArchive() {
			t.Errorf("%v.IsArchive() = false, want true", ct)
		}
	}
}

func TestJobStateAccounting(t *testing.T) {
	tests := []struct {
		name       string
		job        FileProcessingJobState
		accounted  int64
		isTerminal bool
	}{
		{
			name:       "empty job is not terminal",
			job:        FileProcessingJobState{},
			accounted:  0,
			isTerminal: false,
		},
		{
			name: "in progress",
			job: FileProcessingJobState{
				TotalImages:     10,
				CompletedImages: 4,
				FailedImages:    1,
				SkippedImages:   2,
			},
			accounted:  7,
			isTerminal: false,
		},
		{
			name: "all accounted",
			job: FileProcessingJobState{
				TotalImages:     10,
				CompletedImages: 7,
				FailedImages:    2,
				SkippedImages:   1,
			},
			accounted:  10,
			isTerminal: true,
		},
		{
			name: "zero total never terminal",
			job: FileProcessingJobState{
				TotalImages: 0,
			},
			accounted:  0,
			isTerminal: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.job.Accounted(); got != tt.accounted {
				t.Errorf("Accounted() = %d, want %d", got, tt.accounted)
			}
			if got := tt.job.IsTerminal(); got != tt.isTerminal {
				t.Errorf("IsTerminal() = %v, want %v", got, tt.isTerminal)
			}
		})
	}
}

func TestCacheFolderRemainingBytes(t *testing.T) {
	tests := []struct {
		name    string
		max     int64
		current int64
		want    int64
	}{
		{"empty folder", 1 << 20, 0, 1 << 20},
		{"half full", 1000, 500, 500},
		{"exactly full", 1000, 1000, 0},
		{"over capacity clamps to zero", 1000, 1200, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := CacheFolder{MaxSizeBytes: tt.max, CurrentSizeBytes: tt.current}
			if got := f.RemainingBytes(); got != tt.want {
				t.Errorf("RemainingBytes() = %d, want %d", got, tt.want)
			}
		})
	}
}
