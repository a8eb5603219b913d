package coordinator

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/lunarithm/facelogix/internal/models"
)

func testOrg() *models.Organization {
	return &models.Organization{
		CheckInEnd:           "09:00",
		LateThresholdMinutes: 15,
	}
}

func TestComputeLatenessOnTimeBeforeDeadline(t *testing.T) {
	org := testOrg()
	ts := time.Date(2026, 1, 5, 8, 59, 0, 0, time.UTC)

	assert.Equal(t, models.StatusOnTime, computeLateness(org, ts))
}

func TestComputeLatenessOnTimeWithinGracePeriod(t *testing.T) {
	org := testOrg()
	ts := time.Date(2026, 1, 5, 9, 10, 0, 0, time.UTC)

	assert.Equal(t, models.StatusOnTime, computeLateness(org, ts))
}

func TestComputeLatenessAfterGracePeriodIsLate(t *testing.T) {
	org := testOrg()
	ts := time.Date(2026, 1, 5, 9, 16, 0, 0, time.UTC)

	assert.Equal(t, models.StatusLate, computeLateness(org, ts))
}

func TestComputeLatenessMalformedCheckInEndDefaultsOnTime(t *testing.T) {
	org := testOrg()
	org.CheckInEnd = "not-a-time"
	ts := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, models.StatusOnTime, computeLateness(org, ts))
}

func TestComputeLatenessEmptyCheckInEndDefaultsOnTime(t *testing.T) {
	org := testOrg()
	org.CheckInEnd = ""
	ts := time.Date(2026, 1, 5, 23, 0, 0, 0, time.UTC)

	assert.Equal(t, models.StatusOnTime, computeLateness(org, ts))
}

func TestDeviceIDPtrEmptyStringIsNil(t *testing.T) {
	assert.Nil(t, deviceIDPtr(""))
}

func TestDeviceIDPtrNonEmptyString(t *testing.T) {
	ptr := deviceIDPtr("kiosk-1")
	if assert.NotNil(t, ptr) {
		assert.Equal(t, "kiosk-1", *ptr)
	}
}
