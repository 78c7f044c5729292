package config

import "testing"

func TestTemplatesDefaults(t *testing.T) {
	t.Setenv("FACEFRAME_TEMPLATES", "")

	configs, err := Templates()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if len(configs) != 3 {
		t.Fatalf("expected 3 built-in templates, got %d", len(configs))
	}
	if configs[0].Name != "template1" || configs[0].FacePosition.X != 300 {
		t.Fatalf("unexpected first template %+v", configs[0])
	}
}

func TestTemplatesOverride(t *testing.T) {
	t.Setenv("FACEFRAME_TEMPLATES", `[{"name":"custom","face_position":{"x":10,"y":20,"width":30,"height":40}}]`)

	configs, err := Templates()
	if err != nil {
		t.Fatalf("templates: %v", err)
	}
	if len(configs) != 1 || configs[0].Name != "custom" || configs[0].FacePosition.Height != 40 {
		t.Fatalf("unexpected templates %+v", configs)
	}
}

func TestTemplatesRejectsInvalidJSON(t *testing.T) {
	t.Setenv("FACEFRAME_TEMPLATES", "{not json")

	if _, err := Templates(); err == nil {
		t.Fatal("expected parse error")
	}
}
