package controller

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetConditionAppendsNewType(t *testing.T) {
	conditions := SetCondition(nil, ConditionTrue("Ready", "AllContainersReady"))
	require.Len(t, conditions, 1)
	require.Equal(t, "Ready", conditions[0].Type)
	require.Equal(t, "True", conditions[0].Status)
}

func TestSetConditionReplacesExistingType(t *testing.T) {
	conditions := []Condition{ConditionFalse("Ready", "Waiting", "container starting")}
	conditions = SetCondition(conditions, ConditionTrue("Ready", "AllContainersReady"))

	require.Len(t, conditions, 1)
	require.Equal(t, "True", conditions[0].Status)
	require.Equal(t, "AllContainersReady", conditions[0].Reason)
}

func TestSetConditionLeavesOtherTypesUntouched(t *testing.T) {
	conditions := []Condition{
		ConditionTrue("PodScheduled", "Scheduled"),
		ConditionFalse("Ready", "Waiting", "container starting"),
	}
	conditions = SetCondition(conditions, ConditionTrue("Ready", "AllContainersReady"))

	require.Len(t, conditions, 2)
	require.Equal(t, "PodScheduled", conditions[0].Type)
	require.Equal(t, "True", conditions[0].Status)
	require.Equal(t, "Ready", conditions[1].Type)
	require.Equal(t, "True", conditions[1].Status)
}

func TestConditionFalseCarriesMessage(t *testing.T) {
	c := ConditionFalse("Available", "MinimumReplicasUnavailable", "0 of 3 replicas ready")
	require.Equal(t, "False", c.Status)
	require.Equal(t, "MinimumReplicasUnavailable", c.Reason)
	require.Equal(t, "0 of 3 replicas ready", c.Message)
}
