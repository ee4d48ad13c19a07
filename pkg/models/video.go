package models

import "time"

// SubtitleStatus reports subtitle availability for a video and the derived
// confidence in analysis quality.
type SubtitleStatus struct {
	Available       bool     `json:"available"`
	ManualSubtitles []string `json:"manual_subtitles"`
	AutoCaptions    []string `json:"auto_captions"`
	SelectedLang    *string  `json:"selected_lang"`
	ConfidenceScore float64  `json:"confidence_score"`
}

// VideoMetadata is the metadata-phase output: video facts plus subtitle text
type VideoMetadata struct {
	URL                  string          `json:"url"`
	VideoID              string          `json:"video_id"`
	Title                string          `json:"title"`
	Description          string          `json:"description,omitempty"`
	PublishDate          *time.Time      `json:"publish_date,omitempty"`
	DurationSeconds      int             `json:"duration,omitempty"`
	Keywords             []string        `json:"keywords,omitempty"`
	SubtitleLang         *string         `json:"subtitle_lang,omitempty"`
	Subtitles            string          `json:"subtitles,omitempty"`
	SubtitleAvailability *SubtitleStatus `json:"subtitle_availability,omitempty"`
}

// AnalyzeRequest is the submission payload for video analysis
type AnalyzeRequest struct {
	URL           string `json:"url" binding:"required"`
	SearchSubject string `json:"search_subject,omitempty"`
}
