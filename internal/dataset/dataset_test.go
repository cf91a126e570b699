package dataset

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

const sampleCSV = `customerID,gender,SeniorCitizen,tenure,Contract,MonthlyCharges,TotalCharges,Churn
0001-A,Female,0,1,Month-to-month,29.85,29.85,No
0002-B,Male,0,34,One year,56.95,1889.5,No
0003-C,Male,1,2,Month-to-month,53.85,108.15,Yes
0004-D,Female,0,0,Two year,52.55, ,No
0005-E,Female,0,45,One year,42.30,1840.75,No
0006-F,Male,1,8,Month-to-month,99.65,820.5,Yes
`

func loadSample(t *testing.T) *Frame {
	t.Helper()
	frame, err := Read(strings.NewReader(sampleCSV))
	require.NoError(t, err)
	return frame
}

func TestRead(t *testing.T) {
	frame := loadSample(t)
	assert.Len(t, frame.Columns, 8)
	assert.Len(t, frame.Rows, 6)
	assert.Equal(t, "customerID", frame.Columns[0])
}

func TestRead_Empty(t *testing.T) {
	_, err := Read(strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEmpty)
}

func TestLoad_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "churn.csv")
	require.NoError(t, os.WriteFile(path, []byte("\ufeff"+sampleCSV), 0o600))

	frame, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "customerID", frame.Columns[0], "byte order mark must be stripped from the header")
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestCoerceNumericAndDropMissing(t *testing.T) {
	frame := loadSample(t)

	invalid, err := frame.CoerceNumeric("TotalCharges")
	require.NoError(t, err)
	assert.Equal(t, 1, invalid, "blank TotalCharges must become missing")

	dropped := frame.DropMissing()
	assert.Equal(t, 1, dropped)
	assert.Len(t, frame.Rows, 5)
}

func TestRead_NASpellingsAreMissing(t *testing.T) {
	csv := "id,Partner,TotalCharges\na,NA,1\nb,null,2\nc,N/A,3\nd,Yes,nan\ne,No,4\n"
	frame, err := Read(strings.NewReader(csv))
	require.NoError(t, err)

	assert.Nil(t, frame.Rows[0][1])
	assert.Nil(t, frame.Rows[1][1])
	assert.Nil(t, frame.Rows[2][1])
	assert.Nil(t, frame.Rows[3][2])
	require.NotNil(t, frame.Rows[4][1])
	assert.Equal(t, "No", *frame.Rows[4][1])

	assert.Equal(t, 4, frame.DropMissing())
	require.Len(t, frame.Rows, 1)
	assert.Equal(t, "e", *frame.Rows[0][0])
}

func TestCoerceNumeric_NonFiniteIsMissing(t *testing.T) {
	frame, err := Read(strings.NewReader("id,tenure,TotalCharges,Churn\na,1,NaN,Yes\nb,2,3.5,No\nc,3,inf,No\nd,4,-Infinity,No\n"))
	require.NoError(t, err)
	require.Nil(t, frame.Rows[0][2], "NaN is read as missing before coercion")

	invalid, err := frame.CoerceNumeric("TotalCharges")
	require.NoError(t, err)
	assert.Equal(t, 2, invalid)

	assert.Equal(t, 3, frame.DropMissing())
	require.Len(t, frame.Rows, 1)
	assert.Equal(t, "3.5", *frame.Rows[0][2])
}

func TestCoerceNumeric_UnknownColumn(t *testing.T) {
	frame := loadSample(t)
	_, err := frame.CoerceNumeric("Nope")
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestDropColumn(t *testing.T) {
	frame := loadSample(t)
	require.NoError(t, frame.DropColumn("customerID"))

	assert.NotContains(t, frame.Columns, "customerID")
	for _, row := range frame.Rows {
		assert.Len(t, row, len(frame.Columns))
	}
	assert.ErrorIs(t, frame.DropColumn("customerID"), ErrMissingColumn)
}

func TestBinarizeLabel(t *testing.T) {
	frame := loadSample(t)
	require.NoError(t, frame.BinarizeLabel("Churn", "Yes", "No"))

	idx, err := frame.Index("Churn")
	require.NoError(t, err)
	assert.Equal(t, "0", *frame.Rows[0][idx])
	assert.Equal(t, "1", *frame.Rows[2][idx])
}

func TestBinarizeLabel_UnexpectedValue(t *testing.T) {
	frame, err := Read(strings.NewReader("a,Churn\n1,Maybe\n"))
	require.NoError(t, err)
	assert.Error(t, frame.BinarizeLabel("Churn", "Yes", "No"))
}

func prepared(t *testing.T) *Frame {
	t.Helper()
	frame := loadSample(t)
	_, err := frame.CoerceNumeric("TotalCharges")
	require.NoError(t, err)
	frame.DropMissing()
	require.NoError(t, frame.DropColumn("customerID"))
	require.NoError(t, frame.BinarizeLabel("Churn", "Yes", "No"))
	return frame
}

func TestOneHot_DropFirst(t *testing.T) {
	enc, err := OneHot(prepared(t), "Churn", true)
	require.NoError(t, err)

	assert.Equal(t, []string{
		"SeniorCitizen", "tenure", "MonthlyCharges", "TotalCharges",
		"gender_Male",
		"Contract_One year",
	}, enc.Features, "Two year only appeared in the dropped row")

	assert.Equal(t, 5, enc.Rows())
	assert.Equal(t, []float64{0, 0, 1, 0, 1}, enc.Y)

	// Second row: Male, One year contract.
	assert.Equal(t, []float64{0, 34, 56.95, 1889.5, 1, 1}, mat.Row(nil, 1, enc.X))
	// First row: Female, month-to-month -> both indicators zero.
	assert.Equal(t, []float64{0, 1, 29.85, 29.85, 0, 0}, mat.Row(nil, 0, enc.X))
}

func TestOneHot_KeepFirst(t *testing.T) {
	enc, err := OneHot(prepared(t), "Churn", false)
	require.NoError(t, err)
	assert.Contains(t, enc.Features, "gender_Female")
	assert.Contains(t, enc.Features, "Contract_Month-to-month")
}

func TestOneHot_MissingLabel(t *testing.T) {
	_, err := OneHot(prepared(t), "Target", true)
	assert.ErrorIs(t, err, ErrMissingColumn)
}

func TestTrainTestSplit(t *testing.T) {
	enc, err := OneHot(prepared(t), "Churn", true)
	require.NoError(t, err)

	s1, err := TrainTestSplit(enc, 0.2, 42)
	require.NoError(t, err)
	s2, err := TrainTestSplit(enc, 0.2, 42)
	require.NoError(t, err)

	trainRows, _ := s1.XTrain.Dims()
	testRows, _ := s1.XTest.Dims()
	assert.Equal(t, 4, trainRows)
	assert.Equal(t, 1, testRows, "ceil(5*0.2) rows are held out")

	assert.True(t, mat.Equal(s1.XTrain, s2.XTrain), "same seed must give same partition")
	assert.Equal(t, s1.YTest, s2.YTest)
}

func TestTrainTestSplit_InvalidSize(t *testing.T) {
	enc, err := OneHot(prepared(t), "Churn", true)
	require.NoError(t, err)

	_, err = TrainTestSplit(enc, 0, 42)
	assert.Error(t, err)
	_, err = TrainTestSplit(enc, 1.5, 42)
	assert.Error(t, err)
}
