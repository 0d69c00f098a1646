package domain

import "testing"

func TestCreateJobRequestValidate(t *testing.T) {
	valid := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Colors:     []string{"#142a68", "#23438d"},
	}
	if err := valid.Validate(); err != nil {
		t.Fatalf("expected valid request, got error: %v", err)
	}

	invalid := CreateJobRequest{}
	if err := invalid.Validate(); err == nil {
		t.Fatal("expected validation error for empty request")
	}

	missingObjectKey := CreateJobRequest{
		SourceType: SourceTypeLocalFile,
		Colors:     []string{"#142a68"},
	}
	if err := missingObjectKey.Validate(); err == nil {
		t.Fatal("expected validation error for local_file object_key")
	}

	unsupportedSourceType := CreateJobRequest{
		SourceType: "http_url",
		ObjectKey:  "garment.png",
		Colors:     []string{"#142a68"},
	}
	if err := unsupportedSourceType.Validate(); err == nil {
		t.Fatal("expected validation error for unsupported source_type")
	}
}

func TestCreateJobRequestValidateColors(t *testing.T) {
	notHex := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Colors:     []string{"red"},
	}
	if err := notHex.Validate(); err == nil {
		t.Fatal("expected validation error for non-hex color")
	}

	tooMany := CreateJobRequest{
		SourceType: SourceTypeS3Presigned,
		Colors:     make([]string, MaxPaletteColors+1),
	}
	for i := range tooMany.Colors {
		tooMany.Colors[i] = "#00ff00"
	}
	if err := tooMany.Validate(); err == nil {
		t.Fatal("expected validation error for more than 10 colors")
	}
}
