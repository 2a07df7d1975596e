package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

func TestLoggerInit(t *testing.T) {
	Convey("Given the global logger", t, func() {
		Convey("When initialized with defaults", func() {
			So(Init(), ShouldBeNil)

			Convey("Then Get and Slog return usable loggers", func() {
				So(Get(), ShouldNotBeNil)
				So(Slog(), ShouldNotBeNil)
				So(Sync(), ShouldBeNil)
			})
		})

		Convey("When initialized with an unknown format", func() {
			err := InitWith(&bytes.Buffer{}, "xml")

			Convey("Then it fails", func() {
				So(err, ShouldNotBeNil)
			})
		})
	})
}

func TestLoggerJSONOutput(t *testing.T) {
	Convey("Given a JSON logger writing to a buffer", t, func() {
		var buf bytes.Buffer
		So(InitWith(&buf, "json"), ShouldBeNil)
		defer func() { _ = Init() }()

		Convey("When logging with fields from a named logger", func() {
			Named("merge").Info(context.Background(), "merged",
				String("race_key", "ascot::2026-10-18::r01"),
				Int("applied", 3),
				Bool("created", true),
				Duration("took", 1500*time.Millisecond),
				Error(errors.New("boom")),
			)

			var line map[string]any
			So(json.Unmarshal(buf.Bytes(), &line), ShouldBeNil)

			Convey("Then every field is present", func() {
				So(line["msg"], ShouldEqual, "merged")
				So(line["component"], ShouldEqual, "merge")
				So(line["race_key"], ShouldEqual, "ascot::2026-10-18::r01")
				So(line["applied"], ShouldEqual, float64(3))
				So(line["created"], ShouldEqual, true)
				So(line["took"], ShouldEqual, "1.5s")
				So(line["source"], ShouldContainSubstring, "logger_test.go")
			})
		})

		Convey("When the level is raised to warn", func() {
			So(SetLevelString("warn"), ShouldBeNil)
			Get().Info(context.Background(), "hidden")

			Convey("Then info messages are dropped", func() {
				So(buf.Len(), ShouldEqual, 0)
			})
		})

		Convey("When the level string is invalid", func() {
			Convey("Then SetLevelString reports it", func() {
				So(SetLevelString("loud"), ShouldNotBeNil)
			})
		})
	})
}
